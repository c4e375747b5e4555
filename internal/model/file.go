package model

import "time"

// File is an object held in a storage bucket.
type File struct {
	Bucket    string    `json:"bucket"`
	Path      string    `json:"path"`
	MIME      string    `json:"mime"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
