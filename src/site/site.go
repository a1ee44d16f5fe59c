package site

import (
	"fmt"
	"sort"
)

const (
	// InvalidSeqNum marks the absence of a sequence number, for example the
	// predecessor of an origin's first message.
	InvalidSeqNum int64 = -1
	// InvalidSiteID ...
	InvalidSiteID = -1
)

// Visibility is the class of an Inter-Site Message. Each class is numbered
// independently.
type Visibility int

const (
	// Public messages are replicated to every site.
	Public Visibility = iota
	// Private messages are only delivered to their destination site.
	Private
)

// String ...
func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Private:
		return "private"
	default:
		return "unknown"
	}
}

// ParseVisibility ...
func ParseVisibility(s string) (Visibility, error) {
	switch s {
	case "public", "":
		return Public, nil
	case "private":
		return Private, nil
	default:
		return Public, fmt.Errorf("unknown visibility %q", s)
	}
}

// Cursor is the position a site has reached in an origin's two message
// chains.
type Cursor struct {
	Public  int64
	Private int64
}

// Get returns the position reached in the chain of the given visibility.
func (c Cursor) Get(v Visibility) int64 {
	if v == Private {
		return c.Private
	}
	return c.Public
}

// Site is a registry record. It is a plain value: copies never alias the
// registry they were read from.
type Site struct {
	ID            int    `json:"id"`
	Name          string `json:"name,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
	PublicSeqNum  int64  `json:"public_seq_num"`
	PrivateSeqNum int64  `json:"private_seq_num"`
	IsActive      bool   `json:"active"`
}

// New returns an active site with no known messages.
func New(id int, name, baseURL string) Site {
	return Site{
		ID:            id,
		Name:          name,
		BaseURL:       baseURL,
		PublicSeqNum:  InvalidSeqNum,
		PrivateSeqNum: InvalidSeqNum,
		IsActive:      true,
	}
}

// MaxSeqNum is the sequence number of the latest message known to have been
// originated by the site, whatever its visibility.
func (s Site) MaxSeqNum() int64 {
	if s.PublicSeqNum > s.PrivateSeqNum {
		return s.PublicSeqNum
	}
	return s.PrivateSeqNum
}

// SeqNum returns the cursor of the given visibility class.
func (s Site) SeqNum(v Visibility) int64 {
	if v == Private {
		return s.PrivateSeqNum
	}
	return s.PublicSeqNum
}

// Cursor returns the replication cursor of the site.
func (s Site) Cursor() Cursor {
	return Cursor{Public: s.PublicSeqNum, Private: s.PrivateSeqNum}
}

// HasBaseURL ...
func (s Site) HasBaseURL() bool {
	return s.BaseURL != ""
}

// String ...
func (s Site) String() string {
	return fmt.Sprintf("site %d (%s)", s.ID, s.BaseURL)
}

// ByID implements sort.Interface for []Site based on the ID field.
type ByID []Site

func (a ByID) Len() int           { return len(a) }
func (a ByID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByID) Less(i, j int) bool { return a[i].ID < a[j].ID }

// Sorted returns a copy of sites in ascending id order.
func Sorted(sites []Site) []Site {
	res := make([]Site, len(sites))
	copy(res, sites)
	sort.Sort(ByID(res))
	return res
}

// ExcludeSite is used to exclude a single site from a list of sites. It
// returns the index the site was found at, or -1.
func ExcludeSite(sites []Site, id int) (int, []Site) {
	index := -1
	others := make([]Site, 0, len(sites))
	for i, s := range sites {
		if s.ID != id {
			others = append(others, s)
		} else {
			index = i
		}
	}
	return index, others
}
