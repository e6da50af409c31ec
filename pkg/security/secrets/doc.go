// Package secrets resolves the long-lived secrets backend adapters derive
// their session credentials from: ChatGPT session tokens, DeepSeek bearer
// tokens and cookie jars, the HuggingChat hf-chat cookie and TheB account
// lists.
//
// A Manager chains providers. NewFromConfig puts the secrets directory
// first (one 0600/0400 file per secret) and the environment second, where
// a secret named "chatgpt-session" is read from
// RELAY_SECRET_CHATGPT_SESSION.
//
// With secrets.watch set the directory is watched with fsnotify. A changed
// file evicts its cached value and fires Manager.OnChange callbacks; the
// server uses them to expire the credentials of adapters that depend on the
// secret, so a rotated cookie jar is picked up without a restart.
//
//	m, err := secrets.NewFromConfig(cfg.Secrets)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	token, err := m.GetSecret(ctx, cfg.Backends.DeepSeek.TokenSecret)
package secrets
