package handlers

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/nlstn/go-odata-classic/internal/host"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/writers"
)

// toODataError maps err to the error written to the client. Errors that are not
// OData errors become internal server errors without exposing their text.
func toODataError(err error) *odataerr.Error {
	var oe *odataerr.Error
	if errors.As(err, &oe) {
		return oe
	}
	return &odataerr.Error{StatusCode: http.StatusInternalServerError, Message: "An error occurred while processing this request", Err: err}
}

// writeError replaces whatever resp holds with the error document for err.
func (d *Dispatcher) writeError(resp *host.OutgoingResponse, x *exchange, err error) {
	oe := toODataError(err)
	if oe.StatusCode >= http.StatusInternalServerError {
		d.logger.Error("Request failed", "method", x.method, "path", x.requestURI, "status", oe.StatusCode, "error", err)
	} else {
		d.logger.Debug("Request rejected", "method", x.method, "path", x.requestURI, "status", oe.StatusCode, "error", err)
	}

	resp.Reset()
	if statusErr := resp.SetStatusCode(oe.StatusCode); statusErr != nil {
		_ = resp.SetStatusCode(http.StatusInternalServerError)
	}

	version, verr := responseVersion(x.maxVersion)
	if verr != nil {
		version = MaxProtocolVersion
	}
	w, werr := d.selectWriter(version, x.format, x.accept, writers.PayloadError)
	if werr != nil {
		w = d.writers.Writer(version, writers.MediaTypeXML)
	}
	resp.SetHeader(host.HeaderDataServiceVersion, versionHeader(1))
	if w == nil {
		resp.SetContentType(writers.MediaTypeText + ";charset=utf-8")
		_, _ = resp.Write([]byte(oe.Message))
		return
	}

	var body bytes.Buffer
	if writeErr := w.WriteError(&body, oe); writeErr != nil {
		d.logger.Error("Error writing error response", "error", writeErr)
		resp.SetContentType(writers.MediaTypeText + ";charset=utf-8")
		_, _ = resp.Write([]byte(oe.Message))
		return
	}
	resp.SetContentType(w.ContentType(writers.PayloadError))
	_, _ = resp.Write(body.Bytes())
}
