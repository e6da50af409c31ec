// Package auth guards the relay's client-facing endpoints with API keys.
//
// The relay holds live web sessions for every configured backend, so
// anything that can reach the listener can spend them. With proxy.auth
// enabled, completion, model and file requests must carry one of the keys
// stored in the secret named by proxy.auth.keys_secret:
//
//	# one key per line, optionally named
//	laptop:relay-7f1c2a
//	relay-39bd01
//
// Keys are read from "Authorization: Bearer <key>" or "X-API-Key". The set
// is reloaded when the secret changes.
//
//	keys, err := auth.LoadKeySet(ctx, secretManager, cfg.Proxy.Auth.KeysSecret)
//	if err != nil {
//	    return err
//	}
//	handler = auth.NewMiddleware(keys, nil).Handle(handler)
package auth
