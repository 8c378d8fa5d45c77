package query

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/statement"
)

// Page is one window into a materialized result set.
type Page struct {
	IDs  []uuid.UUID
	More string // continuation URL path, empty when the set is exhausted
}

// Slice cuts the window [offset, offset+limit) out of the result set and
// builds the continuation URL when statements remain. base is the external
// path prefix ("" or e.g. "/xapi").
func Slice(rs *ResultSet, base string, offset, limit int) Page {
	total := len(rs.IDs)
	if offset >= total {
		return Page{}
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := Page{IDs: rs.IDs[offset:end]}
	if end < total {
		page.More = MoreURL(base, rs.SID, total, end, limit, rs.Format, rs.Attachments)
	}
	return page
}

// MoreURL renders the opaque continuation URL. Clients follow it verbatim.
func MoreURL(base string, sid int64, count, offset, limit int, format statement.Mode, attachments bool) string {
	v := url.Values{}
	v.Set("sid", strconv.FormatInt(sid, 10))
	v.Set("count", strconv.Itoa(count))
	v.Set("offset", strconv.Itoa(offset))
	v.Set("limit", strconv.Itoa(limit))
	v.Set("format", string(format))
	v.Set("attachments", strconv.FormatBool(attachments))
	return base + "/statements/more/?" + v.Encode()
}

// MoreParams is the parsed continuation request.
type MoreParams struct {
	SID    int64
	Offset int
	Limit  int
}

// ParseMore reads the continuation parameters back off a more URL.
func ParseMore(values url.Values) (*MoreParams, error) {
	sid, err := strconv.ParseInt(values.Get("sid"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("sid: must be an integer")
	}
	p := &MoreParams{SID: sid}
	if raw := values.Get("offset"); raw != "" {
		if p.Offset, err = strconv.Atoi(raw); err != nil || p.Offset < 0 {
			return nil, fmt.Errorf("offset: must be a non-negative integer")
		}
	}
	if raw := values.Get("limit"); raw != "" {
		if p.Limit, err = strconv.Atoi(raw); err != nil || p.Limit < 0 {
			return nil, fmt.Errorf("limit: must be a non-negative integer")
		}
	}
	return p, nil
}
