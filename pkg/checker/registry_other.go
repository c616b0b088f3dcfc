//go:build !windows

package checker

func registryExecutablePath() (string, error) {
	return "", ErrInterpreterNotFound
}
