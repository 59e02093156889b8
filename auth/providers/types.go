package providers

import "github.com/nebularis/iam/auth/core"

// providerCatalog lists the supported provider types and their defaults.
// Endpoint templates use {tenant}/{region}/{domain}/{baseUrl}/{realm}
// placeholders, rendered by RenderEndpoint for the types that need them
// (microsoft, custom_oauth2 — anything whose endpoints depend on a
// directory tenant or a self-hosted deployment).
var providerCatalog = []core.ProviderTypeMeta{
	{
		Type:              "google",
		DefaultScopes:     []string{"openid", "email", "profile"},
		PKCERequired:      true,
		SecretRequired:    true,
		AuthorizeEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:     "https://oauth2.googleapis.com/token",
		UserinfoEndpoint:  "https://openidconnect.googleapis.com/v1/userinfo",
		JWKSEndpoint:      "https://www.googleapis.com/oauth2/v3/certs",
	},
	{
		Type:              "github",
		DefaultScopes:     []string{"read:user", "user:email"},
		PKCERequired:      false,
		SecretRequired:    true,
		AuthorizeEndpoint: "https://github.com/login/oauth/authorize",
		TokenEndpoint:     "https://github.com/login/oauth/access_token",
		UserinfoEndpoint:  "https://api.github.com/user",
	},
	{
		Type:              "microsoft",
		DefaultScopes:     []string{"openid", "email", "profile"},
		PKCERequired:      true,
		SecretRequired:    true,
		AuthorizeEndpoint: "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/authorize",
		TokenEndpoint:     "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/token",
		UserinfoEndpoint:  "https://graph.microsoft.com/oidc/userinfo",
		JWKSEndpoint:      "https://login.microsoftonline.com/{tenant}/discovery/v2.0/keys",
	},
	{
		Type:              "apple",
		DefaultScopes:     []string{"openid", "email", "name"},
		PKCERequired:      true,
		SecretRequired:    true,
		AuthorizeEndpoint: "https://appleid.apple.com/auth/authorize",
		TokenEndpoint:     "https://appleid.apple.com/auth/token",
		JWKSEndpoint:      "https://appleid.apple.com/auth/keys",
	},
	{
		Type:           "oidc",
		DefaultScopes:  []string{"openid", "email", "profile"},
		PKCERequired:   true,
		SecretRequired: true,
		// Discovery-based: authorize/token/userinfo/jwks endpoints come
		// from the provider's own Config.Metadata (issuer discovery
		// document), not a static template.
	},
	{
		Type:              "custom_oauth2",
		DefaultScopes:     []string{"openid"},
		PKCERequired:      true,
		SecretRequired:    true,
		AuthorizeEndpoint: "{baseUrl}/realms/{realm}/protocol/openid-connect/auth",
		TokenEndpoint:     "{baseUrl}/realms/{realm}/protocol/openid-connect/token",
		UserinfoEndpoint:  "{baseUrl}/realms/{realm}/protocol/openid-connect/userinfo",
		JWKSEndpoint:      "{baseUrl}/realms/{realm}/protocol/openid-connect/certs",
	},
	{
		Type:           "password",
		DefaultScopes:  nil,
		PKCERequired:   false,
		SecretRequired: false,
	},
	{
		Type:           "code",
		DefaultScopes:  nil,
		PKCERequired:   false,
		SecretRequired: false,
	},
}

func typeMeta(providerType string) (core.ProviderTypeMeta, bool) {
	for _, m := range providerCatalog {
		if m.Type == providerType {
			return m, true
		}
	}
	return core.ProviderTypeMeta{}, false
}
