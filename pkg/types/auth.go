package types

// GitHubUser is the subset of GET /user the gateway keeps
type GitHubUser struct {
	Id        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// AuthInfo contains identity information for authenticated requests.
// Token is the caller's GitHub bearer token, passed through to the content store.
type AuthInfo struct {
	Token string
	User  *GitHubUser
}

func (a *AuthInfo) Login() string {
	if a == nil || a.User == nil {
		return ""
	}
	return a.User.Login
}

// OAuthCredentials is the result of a GitHub OAuth code exchange
type OAuthCredentials struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}
