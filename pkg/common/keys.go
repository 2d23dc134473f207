package common

import "fmt"

var (
	// Index keys
	indexPrefix      string = "index"
	indexRebuildLock string = "index:rebuild:%s:%s:%s:lock" // owner, repo, indexPath

	// Content keys
	contentPrefix    string = "content"
	contentWriteLock string = "content:write:%s:lock" // object key

	// OAuth keys
	oauthPrefix     string = "oauth"
	oauthStateNonce string = "oauth:state:%s" // nonce
)

var Keys = &redisKeys{}

type redisKeys struct{}

// Index keys
func (rk *redisKeys) IndexPrefix() string {
	return indexPrefix
}

func (rk *redisKeys) IndexRebuildLock(owner, repo, indexPath string) string {
	return fmt.Sprintf(indexRebuildLock, owner, repo, indexPath)
}

// Content keys
func (rk *redisKeys) ContentPrefix() string {
	return contentPrefix
}

func (rk *redisKeys) ContentWriteLock(key string) string {
	return fmt.Sprintf(contentWriteLock, key)
}

// OAuth keys
func (rk *redisKeys) OAuthPrefix() string {
	return oauthPrefix
}

func (rk *redisKeys) OAuthStateNonce(nonce string) string {
	return fmt.Sprintf(oauthStateNonce, nonce)
}
