// Package rangehttp serves byte-range requests over a single MDF4 file,
// exercising HTTPRangeSource end to end without a real object store.
package rangehttp

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
)

// NewServer returns an echo app serving path's bytes at "/" with Range
// support. Grounded on cmd/mantle's use of labstack/echo/v5 for its own
// HTTP surface, narrowed here to a single read-only range endpoint.
func NewServer(path string) (*echo.Echo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	size := info.Size()

	e := echo.New()

	e.GET("/", func(c *echo.Context) error {
		f, err := os.Open(path)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		defer func() { _ = f.Close() }()

		start, end, partial, err := parseRange(c.Request().Header.Get("Range"), size)
		if err != nil {
			return echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, err.Error())
		}

		length := end - start + 1
		c.Response().Header().Set("Accept-Ranges", "bytes")
		if partial {
			c.Response().Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
			c.Response().WriteHeader(http.StatusPartialContent)
		} else {
			c.Response().WriteHeader(http.StatusOK)
		}

		buf := make([]byte, length)
		if _, err := f.ReadAt(buf, start); err != nil {
			return err
		}
		_, err = c.Response().Write(buf)
		return err
	})

	return e, nil
}

// parseRange parses a single-range "bytes=start-end" header, per the
// subset of RFC 7233 this demo server needs. An absent header serves the
// whole file.
func parseRange(header string, size int64) (start, end int64, partial bool, err error) {
	if header == "" {
		return 0, size - 1, false, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false, fmt.Errorf("rangehttp: unsupported range unit in %q", header)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false, fmt.Errorf("rangehttp: multi-range requests are not supported")
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("rangehttp: malformed range %q", header)
	}

	if parts[0] == "" {
		// suffix range: last N bytes
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil {
			return 0, 0, false, perr
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, nil
	}

	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false, err
	}
	if parts[1] == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false, err
		}
	}
	if start < 0 || end >= size || start > end {
		return 0, 0, false, fmt.Errorf("rangehttp: range %q out of bounds for size %d", header, size)
	}
	return start, end, true, nil
}
