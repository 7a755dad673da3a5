package main

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"wifi-ad-beacon/internal/model"
)

//go:embed seed_ads.yaml
var defaultCatalogue []byte

type catalogue struct {
	Ads []adEntry `yaml:"ads"`
}

// adEntry：YAML 中的一条广告；缺省字段取 is_active=true、全天、all、权重 1
type adEntry struct {
	Title           string   `yaml:"title"`
	ImageURL        string   `yaml:"image_url"`
	TargetURL       string   `yaml:"target_url"`
	ClickCount      int64    `yaml:"click_count"`
	IsActive        *bool    `yaml:"is_active"`
	ActiveHourStart *int     `yaml:"active_hour_start"`
	ActiveHourEnd   *int     `yaml:"active_hour_end"`
	TargetOS        string   `yaml:"target_os"`
	TargetLat       *float64 `yaml:"target_lat"`
	TargetLon       *float64 `yaml:"target_lon"`
	RadiusMeters    *int     `yaml:"radius_meters"`
	IsGeneric       bool     `yaml:"is_generic"`
	Weight          *float64 `yaml:"weight"`
}

// parseCatalogue：未知字段报错，逐条校验
func parseCatalogue(r io.Reader) ([]model.Advertisement, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c catalogue
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty catalogue")
		}
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Ads))
	out := make([]model.Advertisement, 0, len(c.Ads))
	for i, e := range c.Ads {
		ad, err := e.toModel()
		if err != nil {
			return nil, fmt.Errorf("ads[%d]: %w", i, err)
		}
		if _, dup := seen[ad.Title]; dup {
			return nil, fmt.Errorf("ads[%d]: duplicate title %q", i, ad.Title)
		}
		seen[ad.Title] = struct{}{}
		out = append(out, ad)
	}
	return out, nil
}

func (e adEntry) toModel() (model.Advertisement, error) {
	ad := model.Advertisement{
		Title:           strings.TrimSpace(e.Title),
		ImageURL:        e.ImageURL,
		TargetURL:       e.TargetURL,
		ClickCount:      e.ClickCount,
		IsActive:        true,
		ActiveHourStart: 0,
		ActiveHourEnd:   23,
		TargetOS:        model.DeviceAll,
		TargetLat:       e.TargetLat,
		TargetLon:       e.TargetLon,
		RadiusMeters:    e.RadiusMeters,
		IsGeneric:       e.IsGeneric,
		Weight:          1,
	}
	if ad.Title == "" {
		return ad, errors.New("title is required")
	}
	if e.IsActive != nil {
		ad.IsActive = *e.IsActive
	}
	if e.ActiveHourStart != nil {
		ad.ActiveHourStart = *e.ActiveHourStart
	}
	if e.ActiveHourEnd != nil {
		ad.ActiveHourEnd = *e.ActiveHourEnd
	}
	if ad.ActiveHourStart < 0 || ad.ActiveHourStart > 23 || ad.ActiveHourEnd < 0 || ad.ActiveHourEnd > 23 {
		return ad, fmt.Errorf("%q: active hours must be within 0-23", ad.Title)
	}
	if e.TargetOS != "" {
		os, err := model.ParseDeviceOS(e.TargetOS)
		if err != nil {
			return ad, fmt.Errorf("%q: %w", ad.Title, err)
		}
		ad.TargetOS = os
	}
	set := 0
	for _, ok := range []bool{e.TargetLat != nil, e.TargetLon != nil, e.RadiusMeters != nil} {
		if ok {
			set++
		}
	}
	if set != 0 && set != 3 {
		return ad, fmt.Errorf("%q: target_lat, target_lon and radius_meters must be set together", ad.Title)
	}
	if e.RadiusMeters != nil && *e.RadiusMeters <= 0 {
		return ad, fmt.Errorf("%q: radius_meters must be > 0", ad.Title)
	}
	if e.Weight != nil {
		ad.Weight = *e.Weight
	}
	if ad.Weight < 0 {
		return ad, fmt.Errorf("%q: weight must be >= 0", ad.Title)
	}
	return ad, nil
}
