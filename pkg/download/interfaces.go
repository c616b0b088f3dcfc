package download

import "context"

// Downloader defines what the install orchestrator needs from a downloader
type Downloader interface {
	// DownloadWithVerification returns the local path of a verified artifact, or an error.
	DownloadWithVerification(ctx context.Context, url string) (string, error)
	// Destination is where the artifact for url ends up.
	Destination(url string) string
}

var _ Downloader = (*Client)(nil)
