package tracking

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// LogArtifact stores body as artifactPath (e.g. "model/model.json") under the
// run's artifact root.
//
// Proxied roots ("mlflow-artifacts:/...") are uploaded through the server.
// Local roots ("file://..." or a bare path) are written directly, which is
// what a server started without artifact proxying hands out.
func (c *Client) LogArtifact(ctx context.Context, run RunInfo, artifactPath string, body []byte) error {
	root := run.ArtifactURI
	if root == "" {
		return errors.Errorf("run %s has no artifact location", run.RunID)
	}

	switch {
	case strings.HasPrefix(root, "mlflow-artifacts:"):
		return c.uploadArtifact(ctx, root, artifactPath, body)
	case strings.HasPrefix(root, "file://"), strings.HasPrefix(root, "/"):
		return c.writeLocalArtifact(root, artifactPath, body)
	default:
		return errors.Errorf("unsupported artifact location %q for run %s", root, run.RunID)
	}
}

func (c *Client) uploadArtifact(ctx context.Context, root, artifactPath string, body []byte) error {
	u, err := url.Parse(root)
	if err != nil {
		return errors.Wrapf(err, "parsing artifact location %q", root)
	}
	// "mlflow-artifacts:/1/<run>/artifacts" and "mlflow-artifacts://host/1/..." both
	// carry the relative location in Path.
	rel := path.Join(strings.TrimLeft(u.Path, "/"), artifactPath)
	endpoint := artifactPrefix + "/" + rel

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "building upload of %s", rel)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return errors.Wrapf(c.send(req, endpoint, nil), "uploading artifact %s", artifactPath)
}

func (c *Client) writeLocalArtifact(root, artifactPath string, body []byte) error {
	dir := strings.TrimPrefix(root, "file://")
	target := filepath.Join(dir, filepath.FromSlash(artifactPath))

	if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating artifact directory for %s", artifactPath)
	}
	return errors.Wrapf(afero.WriteFile(c.fs, target, body, 0o644), "writing artifact %s", target)
}
