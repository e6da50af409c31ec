// Package providers contains the adapter contract shared by every web chat
// backend and the HTTP plumbing they build on.
//
// # Architecture
//
//  1. Adapter - the contract: Prepare (ensure-ready plus envelope) and
//     Execute (the completion call) for one logical request.
//  2. HTTPProvider - pooled client, bounded auxiliary calls, unbounded
//     streaming calls and passive health tracking.
//  3. Error taxonomy - every failure is one of the typed errors in this
//     package; Kind maps it to the stable kind string clients see.
//  4. Backends - chatgpt, deepseek, huggingchat and theb sub-packages.
//
// # Error Classification
//
// HTTPProvider classifies responses the same way for every backend:
//
//	401, 403       -> *AuthError       (credential refresh, bounded)
//	other 4xx      -> *UpstreamError   (surfaced verbatim, never retried)
//	5xx, network   -> *TransientError  (retried once by the dispatcher)
//
// Adapters add backend-specific signals on top, such as error codes carried
// in a 200 response.
package providers
