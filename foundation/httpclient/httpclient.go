// Package httpclient provides basic http functions
package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// feed sources occasionally hang, bound every fetch rather than waiting on them
const fetchTimeout = 30 * time.Second

var client = &http.Client{Timeout: fetchTimeout}

// FetchBytes pulls bytes from url using a simple GET request with a fixed timeout.
// A non-200 response is returned as an error so callers can treat it as a normal
// fetch failure.
func FetchBytes(url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d fetching %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// DownloadedFile contains information about a file that has been downloaded to the local file system
type DownloadedFile struct {
	LocalFilePath string
	Size          int64
	DownloadedAt  time.Time
}

// DownloadRemoteFile retrieves a file from a url to a local file destination.
// On success returns information about the file in DownloadedFile
func DownloadRemoteFile(destinationFileName string, url string) (*DownloadedFile, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d downloading %s", resp.StatusCode, url)
	}

	out, err := os.Create(destinationFileName)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = out.Close()
	}()
	bytesWritten, err := io.Copy(out, resp.Body)
	if err != nil {
		return nil, err
	}

	result := DownloadedFile{
		LocalFilePath: destinationFileName,
		Size:          bytesWritten,
		DownloadedAt:  time.Now(),
	}
	return &result, err
}
