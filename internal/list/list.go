package list

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"dbrb/internal/config"
	"dbrb/internal/manifest"
	"dbrb/internal/remote"
	"dbrb/internal/storage"
)

type SegmentInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Blake3Hash string `json:"blake3_hash"`
}

type Output struct {
	Location       string        `json:"location"`
	Container      string        `json:"container"`
	Manifest       string        `json:"manifest"`
	JobID          string        `json:"job_id,omitempty"`
	Type           string        `json:"type,omitempty"`
	Datetime       int64         `json:"datetime"`
	DatetimeStr    string        `json:"datetime_str"`
	Hostname       string        `json:"hostname"`
	Zipped         bool          `json:"zipped"`
	Cipher         string        `json:"cipher"`
	Size           int64         `json:"size"`
	SegmentMaxSize int64         `json:"segment_max_size"`
	Blake3Hash     string        `json:"blake3_hash"`
	Segments       []SegmentInfo `json:"segments"`
	Summary        struct {
		SegmentCount int     `json:"segment_count"`
		SizeGB       float64 `json:"size_gb"`
	} `json:"summary"`
}

func Run(ctx context.Context, configPath, location string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := remote.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	st := storage.New(store, storage.Options{Container: cfg.Container()})
	return Print(ctx, st, location, w)
}

// Print writes the manifest stored at location as JSON.
func Print(ctx context.Context, st *storage.ObjectStoreStorage, location string, w io.Writer) error {
	container, filename, err := storage.ParseLocation(location)
	if err != nil {
		return err
	}
	m, err := st.Manifest(ctx, location)
	if err != nil {
		return err
	}

	output := newOutput(m)
	output.Location = location
	output.Container = container
	output.Manifest = filename

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func newOutput(m *manifest.Backup) Output {
	output := Output{
		JobID:          m.JobID,
		Type:           m.Type,
		Datetime:       m.Datetime,
		DatetimeStr:    time.Unix(m.Datetime, 0).Format("2006-01-02 15:04:05"),
		Hostname:       m.System.Hostname,
		Zipped:         m.Zipped,
		Cipher:         m.Cipher,
		Size:           m.Size,
		SegmentMaxSize: m.SegmentMaxSize,
		Blake3Hash:     m.Blake3Hash,
		Segments:       []SegmentInfo{},
	}
	for _, s := range m.Segments {
		output.Segments = append(output.Segments, SegmentInfo{Name: s.Name, Size: s.Size, Blake3Hash: s.Blake3Hash})
	}
	output.Summary.SegmentCount = len(m.Segments)
	output.Summary.SizeGB = float64(m.Size) / (1 << 30)
	return output
}
