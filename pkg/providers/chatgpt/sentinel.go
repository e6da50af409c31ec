package chatgpt

import (
	"context"
	"net/http"

	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/pow"
)

// chatRequirements is the sentinel's answer to a chat-requirements call.
type chatRequirements struct {
	Token  string `json:"token"`
	Arkose *struct {
		Required bool `json:"required"`
	} `json:"arkose"`
	ProofOfWork struct {
		Required   bool   `json:"required"`
		Seed       string `json:"seed"`
		Difficulty string `json:"difficulty"`
	} `json:"proofofwork"`
}

// requirements fetches the chat-requirements token for one request. The
// sentinel wants a requirements proof with the call: when the first answer
// carries a challenge it is solved and the call repeated with that proof.
// The proof lives only for this request.
func (a *Adapter) requirements(ctx context.Context, secret credentials.Secret) (*chatRequirements, error) {
	url := a.URL("/" + apiPrefix(secret) + "/sentinel/chat-requirements")
	header := a.headers(secret)

	reqs, err := a.postRequirements(ctx, url, "", header)
	if err != nil {
		return nil, err
	}
	if reqs.ProofOfWork.Seed == "" {
		return reqs, nil
	}

	arkose := reqs.Arkose != nil && reqs.Arkose.Required
	a.logger.Debug("generating requirements proof", "arkose", arkose)
	answer, err := a.solve(ctx, reqs.ProofOfWork.Seed, reqs.ProofOfWork.Difficulty)
	if err != nil {
		return nil, err
	}
	return a.postRequirements(ctx, url, answer.Token, header)
}

func (a *Adapter) postRequirements(ctx context.Context, url, proof string, header http.Header) (*chatRequirements, error) {
	body := map[string]string{}
	if proof != "" {
		body["p"] = proof
	}
	var reqs chatRequirements
	if err := a.DoJSON(ctx, http.MethodPost, url, body, &reqs, header); err != nil {
		return nil, err
	}
	return &reqs, nil
}

// solve answers a sentinel challenge. An unsolved search still returns the
// fallback token; the backend decides whether to accept it.
func (a *Adapter) solve(ctx context.Context, seed, difficulty string) (pow.Answer, error) {
	return a.solver.Solve(ctx, pow.Challenge{
		Algorithm:  "sentinel",
		Seed:       seed,
		Difficulty: difficulty,
	}, pow.Hint{UserAgent: a.Config().UserAgent})
}
