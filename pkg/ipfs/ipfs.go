package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

const component = "ipfs"

// Service fetches datasets from and publishes results to an IPFS node
type Service struct {
	shell *shell.Shell
}

// Config represents the IPFS service configuration
type Config struct {
	APIEndpoint string // IPFS API endpoint (e.g., "localhost:5001")
	Timeout     time.Duration
}

// New creates a service for the node at cfg.APIEndpoint. The node is not
// contacted until the first request.
func New(cfg Config) *Service {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = "localhost:5001" // Default IPFS API endpoint
	}
	sh := shell.NewShell(cfg.APIEndpoint)
	if cfg.Timeout > 0 {
		sh.SetTimeout(cfg.Timeout)
	}
	return &Service{shell: sh}
}

// Cat streams the content of cid. The caller closes the reader.
func (s *Service) Cat(ctx context.Context, cid string) (io.ReadCloser, error) {
	cid = strings.TrimPrefix(strings.TrimSpace(cid), "/ipfs/")
	if cid == "" {
		return nil, fmt.Errorf("empty CID")
	}

	resp, err := s.shell.Request("cat", cid).Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", cid, err)
	}
	if resp.Error != nil {
		resp.Close()
		return nil, fmt.Errorf("failed to fetch %s: %w", cid, resp.Error)
	}

	log := logger.WithComponent(component)
	log.Debug().Str("cid", cid).Msg("Fetching content")
	return resp.Output, nil
}

// PublishJSON stores v as JSON, pins it and returns its CID
func (s *Service) PublishJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	cid, err := s.shell.Add(bytes.NewReader(data), shell.Pin(true), shell.CidVersion(1))
	if err != nil {
		return "", fmt.Errorf("failed to upload to IPFS: %w", err)
	}

	log := logger.WithComponent(component)
	log.Info().
		Str("cid", cid).
		Int("bytes", len(data)).
		Msg("Content published")
	return cid, nil
}
