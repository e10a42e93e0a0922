package model

import (
	"encoding/json"
	"time"
)

// LatLong is a [latitude, longitude] pair.
type LatLong []float64

// PhotoInfo describes an image file.
type PhotoInfo struct {
	TimeTaken time.Time `json:"time_taken"`
	LatLong   LatLong   `json:"lat_long,omitempty"`
}

// DecodePhotoInfo decodes a PhotoInfo. time_taken is required, lat_long nullable.
func DecodePhotoInfo(raw json.RawMessage) (PhotoInfo, error) {
	r, err := newReader("PhotoInfo", raw)
	if err != nil {
		return PhotoInfo{}, err
	}

	p := PhotoInfo{
		TimeTaken: required(r, "time_taken", timestamp),
		LatLong:   orZero(nullable(r, "lat_long", floats)),
	}

	return p, r.err
}

// VideoInfo describes a video file. Duration is in seconds as reported by
// the server.
type VideoInfo struct {
	TimeTaken time.Time `json:"time_taken"`
	LatLong   LatLong   `json:"lat_long,omitempty"`
	Duration  float64   `json:"duration"`
}

// DecodeVideoInfo decodes a VideoInfo.
func DecodeVideoInfo(raw json.RawMessage) (VideoInfo, error) {
	r, err := newReader("VideoInfo", raw)
	if err != nil {
		return VideoInfo{}, err
	}

	v := VideoInfo{
		TimeTaken: required(r, "time_taken", timestamp),
		LatLong:   orZero(nullable(r, "lat_long", floats)),
		Duration:  required(r, "duration", number),
	}

	return v, r.err
}

// MediaInfoTag names a MediaInfo variant.
type MediaInfoTag string

const (
	MediaInfoPhoto MediaInfoTag = "photo"
	MediaInfoVideo MediaInfoTag = "video"
)

// MediaInfo is the media metadata union: photo or video.
type MediaInfo struct {
	Tag   MediaInfoTag
	photo *PhotoInfo
	video *VideoInfo
}

// PhotoMediaInfo wraps p.
func PhotoMediaInfo(p PhotoInfo) MediaInfo { return MediaInfo{Tag: MediaInfoPhoto, photo: &p} }

// VideoMediaInfo wraps v.
func VideoMediaInfo(v VideoInfo) MediaInfo { return MediaInfo{Tag: MediaInfoVideo, video: &v} }

// Photo returns the photo payload when Tag is MediaInfoPhoto.
func (m MediaInfo) Photo() (PhotoInfo, bool) {
	if m.photo == nil {
		return PhotoInfo{}, false
	}

	return *m.photo, true
}

// Video returns the video payload when Tag is MediaInfoVideo.
func (m MediaInfo) Video() (VideoInfo, bool) {
	if m.video == nil {
		return VideoInfo{}, false
	}

	return *m.video, true
}

func (m MediaInfo) MarshalJSON() ([]byte, error) {
	if m.Tag == MediaInfoVideo {
		return marshalUnion(string(m.Tag), m.video)
	}

	return marshalUnion(string(m.Tag), m.photo)
}

// DecodeMediaInfo decodes the MediaInfo union.
func DecodeMediaInfo(raw json.RawMessage) (MediaInfo, error) {
	const typ = "MediaInfo"

	tag, val, err := unionTag(typ, raw)
	if err != nil {
		return MediaInfo{}, err
	}

	switch MediaInfoTag(tag) {
	case MediaInfoPhoto:
		if val == nil {
			return MediaInfo{}, &FieldError{Type: typ, Field: tag, Err: ErrMissingValue}
		}

		p, err := DecodePhotoInfo(val)
		if err != nil {
			return MediaInfo{}, err
		}

		return PhotoMediaInfo(p), nil
	case MediaInfoVideo:
		if val == nil {
			return MediaInfo{}, &FieldError{Type: typ, Field: tag, Err: ErrMissingValue}
		}

		v, err := DecodeVideoInfo(val)
		if err != nil {
			return MediaInfo{}, err
		}

		return VideoMediaInfo(v), nil
	default:
		return MediaInfo{}, &FieldError{Type: typ, Field: tag, Err: ErrUnknownTag}
	}
}
