// Package security groups the relay's secret handling.
//
//   - secrets: resolves backend session tokens, cookie jars and account
//     lists from a watched directory or the environment
//   - auth: optional API keys clients must present to use the relay
package security
