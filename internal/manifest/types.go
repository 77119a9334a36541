package manifest

type Segment struct {
	Name       string `yaml:"name"`
	Size       int64  `yaml:"size"`
	Blake3Hash string `yaml:"blake3_hash"`
}

type SystemInfo struct {
	Hostname string `yaml:"hostname"`
	OS       string `yaml:"os"`
}

// Backup describes one stored backup. It is uploaded as the manifest object
// after its last segment.
type Backup struct {
	Datetime       int64      `yaml:"datetime"`
	System         SystemInfo `yaml:"system"`
	JobID          string     `yaml:"job_id,omitempty"`
	Type           string     `yaml:"type,omitempty"`
	Zipped         bool       `yaml:"zipped"`
	Cipher         string     `yaml:"cipher"`
	SegmentMaxSize int64      `yaml:"segment_max_size"`
	Size           int64      `yaml:"size"`
	Blake3Hash     string     `yaml:"blake3_hash"`
	Segments       []Segment  `yaml:"segments"`
}

// State is the last reported state of a job, kept under the run directory.
type State struct {
	JobID       string `yaml:"job_id"`
	Type        string `yaml:"type,omitempty"`
	State       string `yaml:"state"`
	Size        int64  `yaml:"size,omitempty"`
	Checksum    string `yaml:"checksum,omitempty"`
	Location    string `yaml:"location,omitempty"`
	Note        string `yaml:"note,omitempty"`
	LastUpdated int64  `yaml:"last_updated"`
}
