package site

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
)

const jsonSitesPath = "sites.json"

// JSONSites is used to provide site persistence on disk in the form of a
// JSON file. This allows human operators to manipulate the file.
type JSONSites struct {
	l    sync.Mutex
	path string
}

// NewJSONSites creates a new JSONSites store reading base/sites.json.
func NewJSONSites(base string) *JSONSites {
	return &JSONSites{
		path: filepath.Join(base, jsonSitesPath),
	}
}

// Path ...
func (j *JSONSites) Path() string {
	return j.path
}

// Sites reads the file. Absent cursors in the file default to
// InvalidSeqNum.
func (j *JSONSites) Sites() ([]Site, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, nil
	}

	var raw []struct {
		ID            int    `json:"id"`
		Name          string `json:"name"`
		BaseURL       string `json:"base_url"`
		PublicSeqNum  *int64 `json:"public_seq_num"`
		PrivateSeqNum *int64 `json:"private_seq_num"`
		IsActive      *bool  `json:"active"`
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	sites := make([]Site, 0, len(raw))
	for _, r := range raw {
		s := New(r.ID, r.Name, r.BaseURL)
		if r.PublicSeqNum != nil {
			s.PublicSeqNum = *r.PublicSeqNum
		}
		if r.PrivateSeqNum != nil {
			s.PrivateSeqNum = *r.PrivateSeqNum
		}
		if r.IsActive != nil {
			s.IsActive = *r.IsActive
		}
		sites = append(sites, s)
	}

	return Sorted(sites), nil
}

// SetSites writes the sites out as JSON.
func (j *JSONSites) SetSites(sites []Site) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "\t")
	if err := enc.Encode(Sorted(sites)); err != nil {
		return err
	}

	return atomic.WriteFile(j.path, &buf)
}
