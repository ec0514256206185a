// Package region holds the validated location token used to address the
// pub/sub service endpoint.
package region

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const separator = "-"

// ErrInvalidRegion is wrapped by every Parse failure. Its status code is
// codes.InvalidArgument.
var ErrInvalidRegion = status.Error(codes.InvalidArgument, "invalid region name")

// Region is a two-segment location such as "europe-west".
// The zero value is not a valid region; obtain one with Parse.
type Region string

// Parse validates raw and returns it as a Region. Validation is structural:
// splitting on "-" must yield exactly two segments, either of which may be empty.
func Parse(raw string) (Region, error) {
	if segments := strings.Split(raw, separator); len(segments) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRegion, raw)
	}

	return Region(raw), nil
}

// MustParse is like Parse but panics on an invalid region.
func MustParse(raw string) Region {
	r, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return r
}

// String returns the region exactly as it was parsed.
func (r Region) String() string {
	return string(r)
}

// Endpoint returns the regional address of service, e.g. "europe-west-kafka".
func (r Region) Endpoint(service string) string {
	return r.String() + separator + service
}
