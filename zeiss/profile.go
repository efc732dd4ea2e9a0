// Copyright 2024 The octfile Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package zeiss

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profiles is a named collection of scan geometries, typically one per
// cube preset of the capture device, kept alongside the data files:
//
//	macular-512:
//	  width: 512
//	  height: 1024
//	  slices: 128
//	  deinterlace: true
//
// Geometry stays an explicit input either way; a profile file just names
// the values instead of repeating them at every call site.
type Profiles map[string]Config

// LoadProfiles reads a YAML profile file.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scan profiles %s: %v", path, err)
	}
	return ParseProfiles(data)
}

// ParseProfiles parses YAML profile data. Every profile must describe a
// positive geometry; a bad profile fails the whole file since a silently
// dropped preset would surface later as a geometry mismatch on some
// unrelated .img file.
func ParseProfiles(data []byte) (Profiles, error) {
	var profiles Profiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parsing scan profiles: %v", err)
	}
	for name, cfg := range profiles {
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("scan profile %q: %v", name, err)
		}
	}
	return profiles, nil
}

// Lookup returns the named profile.
func (p Profiles) Lookup(name string) (Config, error) {
	cfg, ok := p[name]
	if !ok {
		return Config{}, fmt.Errorf("no scan profile named %q", name)
	}
	return cfg, nil
}
