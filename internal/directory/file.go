package directory

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/djlord-it/sitepulse/internal/domain"
)

// FileSource reads sites from a YAML document of the form
//
//	sites:
//	  - id: site-a
//	    timezone: America/Mexico_City
//	    business_hours:
//	      sat: {open: "09:00", close: "18:00"}
//	    activities:
//	      lead_research: false
type FileSource struct {
	path   string
	logger *zap.SugaredLogger
}

func NewFileSource(path string, logger *zap.SugaredLogger) *FileSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileSource{path: path, logger: logger.Named("directory")}
}

type fileDocument struct {
	Sites []SiteSpec `yaml:"sites"`
}

// ListSites re-reads the file on every call.
func (f *FileSource) ListSites(ctx context.Context) ([]domain.Site, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read site directory %s", f.path)
	}

	sites, problems, err := Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse site directory %s", f.path)
	}
	for _, p := range problems {
		f.logger.Warnw("site configuration problem", "site_id", p.SiteID, "problem", p.Detail)
	}
	return sites, nil
}

// Parse decodes a YAML site document.
func Parse(raw []byte) ([]domain.Site, []Problem, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, errors.WithHint(errors.Wrap(err, "decode yaml"), "expected a top-level 'sites' list")
	}
	sites, problems := Build(doc.Sites)
	return sites, problems, nil
}
