package main

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPLookup enriches status JSON with the country a node's stream
// endpoint resolves to.
type GeoIPLookup struct {
	db *geoip2.Reader
}

// NewGeoIPLookup opens the configured MaxMind database. Returns nil, nil
// if GeoIP enrichment is disabled.
func NewGeoIPLookup(cfg GeoIPConfig) (*GeoIPLookup, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	db, err := geoip2.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("geoip: failed to open database: %w", err)
	}
	return &GeoIPLookup{db: db}, nil
}

// CountryFor returns the ISO country code for addr, or "" if unknown.
func (g *GeoIPLookup) CountryFor(addr net.Addr) string {
	if g == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	record, err := g.db.Country(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

// Close releases the underlying database.
func (g *GeoIPLookup) Close() {
	if g == nil {
		return
	}
	g.db.Close()
}
