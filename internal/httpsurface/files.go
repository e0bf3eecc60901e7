package httpsurface

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tc3107/mediabus/internal/apierr"
	"github.com/tc3107/mediabus/internal/runtime"
	"github.com/tc3107/mediabus/internal/sharedfs"
)

const uploadChunkSize = 8 * 1024

type fileItem struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Directory    bool   `json:"directory"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
}

func readBatchArgs(r *http.Request) (batchID string, totalFiles int, totalBytes uint64, completedFiles int) {
	batchID = r.Header.Get("X-MediaBus-Batch-Id")
	if v := r.Header.Get("X-MediaBus-Batch-Total-Files"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			totalFiles = n
		}
	}
	if v := r.Header.Get("X-MediaBus-Batch-Total-Bytes"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			totalBytes = n
		}
	}
	if v := r.Header.Get("X-MediaBus-Batch-Completed"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			completedFiles = n
		}
	}
	return
}

func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	res, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	segments, _, aerr := s.resolvePath(r.URL.Query().Get("path"))
	if aerr != nil {
		writeAPIErr(w, aerr)
		return
	}
	infos, err := s.fs.ReadDir(segments)
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.NotFound, "not a directory"))
		return
	}

	settings := s.rt.Settings()
	basePath := strings.Join(segments, "/")
	items := make([]fileItem, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if !settings.ShowHiddenFiles && strings.HasPrefix(name, ".") {
			continue
		}
		itemPath := name
		if basePath != "" {
			itemPath = basePath + "/" + name
		}
		items = append(items, fileItem{
			Name:         name,
			Path:         itemPath,
			Directory:    info.IsDir(),
			Size:         info.Size(),
			LastModified: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Directory != items[j].Directory {
			return items[i].Directory
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":        res.DeviceID,
		"path":            basePath,
		"items":           items,
		"showHiddenFiles": settings.ShowHiddenFiles,
	})
}

func (s *Server) handleFilesDownload(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !s.rt.Settings().AllowDownload {
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "downloads are disabled"))
		return
	}
	segments, p, aerr := s.resolvePath(r.URL.Query().Get("path"))
	if aerr != nil {
		writeAPIErr(w, aerr)
		return
	}
	info, err := s.fs.Stat(segments)
	if err != nil || info.IsDir() {
		writeAPIErr(w, apierr.New(apierr.NotFound, "not found"))
		return
	}

	batchID, totalFiles, totalBytes, completedFiles := readBatchArgs(r)
	ticket, err := s.rt.BeginTransfer(runtime.BeginTransferArgs{
		DeviceID: res.DeviceID, Direction: runtime.Downloading, TotalBytes: uint64(info.Size()),
		BatchID: batchID, BatchTotalFiles: totalFiles, BatchTotalBytes: totalBytes, BatchCompletedFiles: completedFiles,
	})
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.ResourceUnavailable, "transfer could not be started"))
		return
	}
	defer ticket.Close()

	f, err := s.fs.Open(segments)
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.NotFound, "not found"))
		return
	}
	defer f.Close()

	name := filepath.Base(p)
	w.Header().Set("content-type", "application/octet-stream")
	w.Header().Set("content-disposition", `attachment; filename="`+escapeQuotes(name)+`"`)
	w.WriteHeader(http.StatusOK)
	streamWithCancellation(w, f, ticket)
}

func streamWithCancellation(w io.Writer, src io.Reader, ticket *runtime.TransferTicket) {
	buf := make([]byte, uploadChunkSize)
	for {
		if ticket.Cancelled() {
			return
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			ticket.AddProgress(int64(n))
		}
		if err != nil {
			return
		}
	}
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "")
}

func (s *Server) handleFilesUpload(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !s.rt.Settings().AllowUpload {
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "uploads are disabled"))
		return
	}
	dirSegments, _, aerr := s.resolvePath(r.URL.Query().Get("path"))
	if aerr != nil {
		writeAPIErr(w, aerr)
		return
	}
	name := r.URL.Query().Get("name")
	settings := s.rt.Settings()
	nameSegments, verr := pathpkgValidateName(name, settings.ShowHiddenFiles)
	if verr != nil {
		writeAPIErr(w, verr)
		return
	}

	finalName, err := s.uniqueName(dirSegments, nameSegments[0])
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.Internal, "server error"))
		return
	}
	targetSegments := append(append([]string{}, dirSegments...), finalName)

	f, err := s.fs.Create(targetSegments)
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.Internal, "upload failed"))
		return
	}

	batchID, totalFiles, totalBytes, completedFiles := readBatchArgs(r)
	ticket, err := s.rt.BeginTransfer(runtime.BeginTransferArgs{
		DeviceID: res.DeviceID, Direction: runtime.Uploading, TotalBytes: uint64(maxInt64(r.ContentLength, 0)),
		BatchID: batchID, BatchTotalFiles: totalFiles, BatchTotalBytes: totalBytes, BatchCompletedFiles: completedFiles,
	})
	if err != nil {
		f.Close()
		_ = s.fs.Remove(targetSegments)
		writeAPIErr(w, apierr.New(apierr.ResourceUnavailable, "transfer could not be started"))
		return
	}

	outcome := s.copyUploadBody(f, r, ticket)
	f.Close()
	ticket.Close()

	switch outcome {
	case uploadOK:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": finalName})
	case uploadCancelled:
		_ = s.fs.Remove(targetSegments)
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "Transfer cancelled"))
	case uploadClientAborted:
		_ = s.fs.Remove(targetSegments)
		writeJSON(w, http.StatusNoContent, nil)
	}
}

// uploadOutcome distinguishes why copyUploadBody stopped: a clean
// finish, a revocation observed mid-stream (Cancelled), or a
// client/socket-side disconnect or write failure (ClientAborted). The
// three causes get different HTTP responses (spec.md §8 scenario 4).
type uploadOutcome int

const (
	uploadOK uploadOutcome = iota
	uploadCancelled
	uploadClientAborted
)

// copyUploadBody streams r.Body into dst in fixed-size chunks, checking
// cancellation before every read and after every write, and stopping as
// soon as Content-Length bytes have been received when known.
func (s *Server) copyUploadBody(dst io.Writer, r *http.Request, ticket *runtime.TransferTicket) uploadOutcome {
	buf := make([]byte, uploadChunkSize)
	var received int64
	limit := r.ContentLength

	for {
		if ticket.Cancelled() {
			return uploadCancelled
		}
		if limit >= 0 && received >= limit {
			return uploadOK
		}
		n, err := r.Body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return uploadClientAborted
			}
			received += int64(n)
			ticket.AddProgress(int64(n))
		}
		if ticket.Cancelled() {
			return uploadCancelled
		}
		if err != nil {
			if err == io.EOF {
				return uploadOK
			}
			return uploadClientAborted
		}
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (s *Server) uniqueName(dirSegments []string, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; ; n++ {
		segments := append(append([]string{}, dirSegments...), candidate)
		if _, err := s.fs.Stat(segments); err != nil {
			if os.IsNotExist(err) {
				return candidate, nil
			}
			return "", err
		}
		candidate = stem + " (" + strconv.Itoa(n) + ")" + ext
	}
}

func (s *Server) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.rt.Settings().AllowDelete {
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "delete is disabled"))
		return
	}
	segments, _, aerr := s.resolvePath(r.URL.Query().Get("path"))
	if aerr != nil {
		writeAPIErr(w, aerr)
		return
	}
	info, err := s.fs.Stat(segments)
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.NotFound, "not found"))
		return
	}
	if info.IsDir() {
		err = s.fs.RemoveAll(segments)
	} else {
		err = s.fs.Remove(segments)
	}
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.Internal, "delete failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleFilesMkdir(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.rt.Settings().AllowUpload {
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "uploads are disabled"))
		return
	}
	dirSegments, _, aerr := s.resolvePath(r.URL.Query().Get("path"))
	if aerr != nil {
		writeAPIErr(w, aerr)
		return
	}
	settings := s.rt.Settings()
	nameSegments, verr := pathpkgValidateName(r.URL.Query().Get("name"), settings.ShowHiddenFiles)
	if verr != nil {
		writeAPIErr(w, verr)
		return
	}
	targetSegments := append(append([]string{}, dirSegments...), nameSegments[0])
	if _, err := s.fs.Stat(targetSegments); err == nil {
		writeAPIErr(w, apierr.New(apierr.Conflict, "already exists"))
		return
	}
	if err := s.fs.MkdirAll(targetSegments); err != nil {
		writeAPIErr(w, apierr.New(apierr.Internal, "mkdir failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": strings.Join(targetSegments, "/")})
}

func (s *Server) handleFilesRename(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.rt.Settings().AllowUpload {
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "uploads are disabled"))
		return
	}
	fromSegments, _, aerr := s.resolvePath(r.URL.Query().Get("path"))
	if aerr != nil {
		writeAPIErr(w, aerr)
		return
	}
	if len(fromSegments) == 0 {
		writeAPIErr(w, apierr.New(apierr.Validation, "invalid path"))
		return
	}
	settings := s.rt.Settings()
	nameSegments, verr := pathpkgValidateName(r.URL.Query().Get("name"), settings.ShowHiddenFiles)
	if verr != nil {
		writeAPIErr(w, verr)
		return
	}
	parent := fromSegments[:len(fromSegments)-1]
	toSegments := append(append([]string{}, parent...), nameSegments[0])

	if err := s.fs.Rename(fromSegments, toSegments); err != nil {
		if os.IsExist(err) {
			writeAPIErr(w, apierr.New(apierr.Conflict, "already exists"))
			return
		}
		writeAPIErr(w, apierr.New(apierr.Internal, "rename failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"path":    strings.Join(fromSegments, "/"),
		"renamed": strings.Join(toSegments, "/"),
	})
}

// pathpkgValidateName validates a bare file/dir name query parameter
// (no subdirectories allowed) using the same segment rules as full
// paths.
func pathpkgValidateName(name string, showHidden bool) ([]string, *apierr.Error) {
	segments, err := sharedfs.ValidateSegments(name, showHidden)
	switch err {
	case nil:
		if len(segments) != 1 {
			return nil, apierr.New(apierr.Validation, "invalid name")
		}
		return segments, nil
	case sharedfs.ErrHidden:
		return nil, apierr.New(apierr.PolicyDenied, "hidden path denied")
	default:
		return nil, apierr.New(apierr.Validation, "invalid name")
	}
}
