package config

import (
	"fmt"
	"strconv"
	"strings"

	"roadvision/internal/pipeline"
)

// LookupFunc resolves an environment variable
type LookupFunc func(key string) (string, bool)

// FromEnv reads ROADVISION_* variables into overrides
func FromEnv(lookup LookupFunc) (*Overrides, error) {
	e := envReader{lookup: lookup}
	o := &Overrides{}

	o.Source = e.str("SOURCE")
	o.DetectorURL = e.str("DETECTOR_URL")
	o.LaneURL = e.str("LANE_URL")
	o.ServiceTimeout = e.str("SERVICE_TIMEOUT")
	o.HTTPAddr = e.str("HTTP_ADDR")
	o.GRPCAddr = e.str("GRPC_ADDR")
	o.DBPath = e.str("DB_PATH")
	o.RecordDir = e.str("RECORD_DIR")
	o.FPS = e.asInt("FPS")
	o.Preview = e.asBool("PREVIEW")
	o.Debug = e.asBool("DEBUG")

	if v := e.asFloat("CONFIDENCE"); v != nil {
		c := float32(*v)
		o.Confidence = &c
	}
	o.ObjectDetection = e.asBool("OBJECT_DETECTION")
	o.LaneDetection = e.asBool("LANE_DETECTION")
	o.ShowVisuals = e.asBool("SHOW_VISUALS")
	o.ReturnData = e.asBool("RETURN_DATA")
	o.RecordRaw = e.asBool("RECORD_RAW")
	o.RecordProcessed = e.asBool("RECORD_PROCESSED")
	o.Invert = e.asBool("INVERT")
	o.Readout = e.asBool("READOUT")
	o.AnchorROIEdges = e.asBool("ANCHOR_ROI_EDGES")
	o.DetectAll = e.asBool("DETECT_ALL")
	o.CacheSize = e.asInt("CACHE_SIZE")
	o.Width = e.asInt("WIDTH")
	o.Height = e.asInt("HEIGHT")
	if v := e.str("ERROR_POLICY"); v != nil {
		p := pipeline.ErrorPolicy(*v)
		o.ErrorPolicy = &p
	}
	if v := e.str("CLASSES"); v != nil {
		o.Classes = splitList(*v)
	}

	if e.err != nil {
		return nil, e.err
	}
	return o, nil
}

// envReader collects the first parse error
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) str(key string) *string {
	value, ok := e.lookup(EnvPrefix + key)
	if !ok || value == "" {
		return nil
	}
	return &value
}

func (e *envReader) asInt(key string) *int {
	s := e.str(key)
	if s == nil {
		return nil
	}
	v, err := strconv.Atoi(*s)
	if err != nil {
		e.fail(key, *s, err)
		return nil
	}
	return &v
}

func (e *envReader) asFloat(key string) *float64 {
	s := e.str(key)
	if s == nil {
		return nil
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		e.fail(key, *s, err)
		return nil
	}
	return &v
}

func (e *envReader) asBool(key string) *bool {
	s := e.str(key)
	if s == nil {
		return nil
	}
	v, err := strconv.ParseBool(*s)
	if err != nil {
		e.fail(key, *s, err)
		return nil
	}
	return &v
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, value, err)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
