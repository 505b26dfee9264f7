/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bridge picks the external websocket bridge closest to a viewer.
package bridge

import (
	"errors"
	"fmt"
	"math"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

const earthRadiusKm = 6371.0

var (
	errLocationUnknown = errors.New("no location for address")
	errNoHosts         = errors.New("no bridge hosts configured")
	errUnhealthy       = errors.New("bridge health check failed")
)

// Coordinate is a point in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Locator geolocates an IP address.
type Locator interface {
	Locate(ip net.IP) (Coordinate, error)
}

type cityRecord struct {
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// MaxMindLocator reads a GeoLite2/GeoIP2 City database.
type MaxMindLocator struct {
	reader *maxminddb.Reader
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMindLocator, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}

	return &MaxMindLocator{reader: reader}, nil
}

func (l *MaxMindLocator) Locate(ip net.IP) (Coordinate, error) {
	var record cityRecord

	_, ok, err := l.reader.LookupNetwork(ip, &record)
	if err != nil {
		return Coordinate{}, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}

	if !ok || (record.Location.Latitude == 0 && record.Location.Longitude == 0) {
		return Coordinate{}, errLocationUnknown
	}

	return Coordinate{Latitude: record.Location.Latitude, Longitude: record.Location.Longitude}, nil
}

func (l *MaxMindLocator) Close() error {
	return l.reader.Close()
}

// Distance is the great-circle distance in kilometres.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
