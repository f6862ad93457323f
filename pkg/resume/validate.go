package resume

import (
	"net/http"
	"strconv"

	gulphttp "github.com/ligustah/gulp/internal/http"
)

// Fingerprint identifies a version of the remote resource.
type Fingerprint struct {
	LastModified string
	ETag         string
}

// expectation is what the transfer knows before looking at a response.
type expectation struct {
	position      int64
	length        int64 // -1 if unknown
	ranged        bool  // a Range header was sent
	first         bool  // no response has been validated yet
	fingerprint   Fingerprint
	ignoreLastMod bool
}

// validation is what a response taught the transfer.
type validation struct {
	length      int64
	fingerprint Fingerprint
}

// validateResponse checks a response against the transfer's expectations.
// It runs once per attempt, before any body byte is consumed.
func validateResponse(res *http.Response, exp expectation) (validation, error) {
	v := validation{length: exp.length, fingerprint: exp.fingerprint}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return v, &StatusError{Code: res.StatusCode, Status: res.Status}
	}

	h := res.Header
	if enc := h.Get("Content-Encoding"); enc != "" {
		return v, inconsistent("unexpected content-encoding header: %s", enc)
	}

	if exp.ranged {
		cr := h.Get("Content-Range")
		if cr == "" {
			return v, inconsistent("no range header")
		}
		start, end, total, err := gulphttp.ParseContentRange(cr)
		if err != nil {
			return v, inconsistent("malformed range header %q", cr)
		}
		if start != exp.position {
			return v, inconsistent("server returned wrong range %q, expected start at %d", cr, exp.position)
		}
		if exp.length >= 0 {
			if end != exp.length-1 {
				return v, inconsistent("server returned wrong range %q, expected end at %d", cr, exp.length-1)
			}
		} else if exp.first && total >= 0 {
			v.length = total
		}
	}

	if exp.first {
		if cl := h.Get("Content-Length"); cl != "" {
			n, err := strconv.ParseInt(cl, 10, 64)
			if err != nil || n < 0 {
				return v, inconsistent("invalid content-length header: %s", cl)
			}
			if v.length >= 0 {
				if n != v.length-exp.position {
					return v, inconsistent("server returned wrong content length %d, expected length %d", n, v.length)
				}
			} else {
				v.length = exp.position + n
			}
		}

		v.fingerprint = Fingerprint{
			LastModified: h.Get("Last-Modified"),
			ETag:         h.Get("ETag"),
		}
		return v, nil
	}

	fp := exp.fingerprint
	if lm := h.Get("Last-Modified"); fp.LastModified != "" && !exp.ignoreLastMod && lm != fp.LastModified {
		return v, inconsistent("last modified date has changed: %q from %q", lm, fp.LastModified)
	}
	if etag := h.Get("ETag"); fp.ETag != "" && etag != fp.ETag {
		return v, inconsistent("etag has changed: %q from %q", etag, fp.ETag)
	}
	return v, nil
}
