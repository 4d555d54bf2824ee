package serving

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/synaptica-ai/halo/pkg/common/kafka"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/common/models"
)

// ReloadHandler swaps the scorer's model whenever a run publishes one.
// Events carrying no model_path reload from defaultPath; a model_path outside
// defaultPath's directory is ignored.
func ReloadHandler(scorer *Scorer, defaultPath string) kafka.EventHandler {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != models.EventModelPublished {
			return nil
		}
		path := defaultPath
		if p, ok := event.Data["model_path"].(string); ok && p != "" {
			resolved, err := withinDir(filepath.Dir(defaultPath), p)
			if err != nil {
				logger.Log.WithError(err).WithField("event_id", event.ID).Warn("Rejected model path")
				return nil
			}
			path = resolved
		}
		if err := scorer.Reload(path); err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"event_id": event.ID,
				"path":     path,
			}).Warn("Model reload failed; keeping current model")
			return nil
		}
		return nil
	}
}

// withinDir resolves path and requires it to sit under dir.
func withinDir(dir, path string) (string, error) {
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("model path %s is outside %s", path, dir)
	}
	return target, nil
}
