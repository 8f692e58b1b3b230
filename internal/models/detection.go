package models

import "time"

// Detection is one object found by the external detector in a single frame.
type Detection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Label      string      `json:"label"`
}

// FrameDetections holds everything the detectors reported for one frame.
type FrameDetections struct {
	Persons     []Detection `json:"persons"`
	Equipment   []Detection `json:"equipment"`
	FrameWidth  int         `json:"frame_width"`
	FrameHeight int         `json:"frame_height"`
}

// Frame is an encoded image taken from a video source.
type Frame struct {
	Seq        uint64    `json:"seq"`
	Data       []byte    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}
