// Package auth implements Builder ID sign-in for the bidctl CLI: the OAuth 2.0
// device authorization grant with PKCE against an SSO-OIDC endpoint, and the
// lifecycle of the resulting credential (persist, refresh, logout).
package auth
