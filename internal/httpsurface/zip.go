package httpsurface

import (
	"archive/zip"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tc3107/mediabus/internal/apierr"
	"github.com/tc3107/mediabus/internal/runtime"
)

type zipEntry struct {
	arcName string // forward-slash path within the archive; trailing "/" for directories
	isDir   bool
	abs     string // absolute source path, empty for pure directory markers
}

func (s *Server) handleFilesDownloadZip(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !s.rt.Settings().AllowDownload {
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "downloads are disabled"))
		return
	}
	segments, baseAbs, aerr := s.resolvePath(r.URL.Query().Get("path"))
	if aerr != nil {
		writeAPIErr(w, aerr)
		return
	}
	info, err := s.fs.Stat(segments)
	if err != nil || !info.IsDir() {
		writeAPIErr(w, apierr.New(apierr.NotFound, "not found"))
		return
	}

	settings := s.rt.Settings()
	entries, err := s.collectZipEntries(segments, baseAbs, "", settings.ShowHiddenFiles)
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.Internal, "server error"))
		return
	}

	ticket, err := s.rt.BeginTransfer(runtime.BeginTransferArgs{DeviceID: res.DeviceID, Direction: runtime.Downloading})
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.ResourceUnavailable, "transfer could not be started"))
		return
	}
	defer ticket.Close()

	w.Header().Set("content-type", "application/zip")
	w.Header().Set("content-disposition", `attachment; filename="download.zip"`)
	w.WriteHeader(http.StatusOK)
	s.writeZip(w, entries, ticket)
}

func (s *Server) handleFilesDownloadZipBatch(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !s.rt.Settings().AllowDownload {
		writeAPIErr(w, apierr.New(apierr.PolicyDenied, "downloads are disabled"))
		return
	}
	rawPaths := r.URL.Query()["path"]
	settings := s.rt.Settings()

	var all []zipEntry
	used := map[string]bool{}
	for _, raw := range rawPaths {
		segments, abs, aerr := s.resolvePath(raw)
		if aerr != nil {
			writeAPIErr(w, aerr)
			return
		}
		info, err := s.fs.Stat(segments)
		if err != nil {
			writeAPIErr(w, apierr.New(apierr.NotFound, "not found"))
			return
		}
		topName := filepath.Base(abs)
		if len(segments) == 0 {
			topName = "root"
		}
		uniqueTop := dedupeArcName(used, topName, info.IsDir())

		if info.IsDir() {
			sub, err := s.collectZipEntries(segments, abs, uniqueTop+"/", settings.ShowHiddenFiles)
			if err != nil {
				writeAPIErr(w, apierr.New(apierr.Internal, "server error"))
				return
			}
			all = append(all, zipEntry{arcName: uniqueTop + "/", isDir: true})
			all = append(all, sub...)
		} else {
			all = append(all, zipEntry{arcName: uniqueTop, abs: abs})
		}
	}

	ticket, err := s.rt.BeginTransfer(runtime.BeginTransferArgs{DeviceID: res.DeviceID, Direction: runtime.Downloading})
	if err != nil {
		writeAPIErr(w, apierr.New(apierr.ResourceUnavailable, "transfer could not be started"))
		return
	}
	defer ticket.Close()

	w.Header().Set("content-type", "application/zip")
	w.Header().Set("content-disposition", `attachment; filename="download.zip"`)
	w.WriteHeader(http.StatusOK)
	s.writeZip(w, all, ticket)
}

// dedupeArcName appends " (n)" before the extension (files) or at the
// end (directories) until name is unused, per spec.md §4.6's batch
// collision rule.
func dedupeArcName(used map[string]bool, name string, isDir bool) string {
	if !used[name] {
		used[name] = true
		return name
	}
	ext := ""
	stem := name
	if !isDir {
		ext = filepath.Ext(name)
		stem = strings.TrimSuffix(name, ext)
	}
	for n := 1; ; n++ {
		candidate := stem + " (" + strconv.Itoa(n) + ")" + ext
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

// collectZipEntries walks baseSegments (whose resolved absolute path is
// baseAbs) and returns zip entries named relative to baseAbs, prefixed
// by arcPrefix, in lowercased-name-sorted order with directories before
// their children, per spec.md §8's ZIP determinism property.
func (s *Server) collectZipEntries(baseSegments []string, baseAbs, arcPrefix string, showHidden bool) ([]zipEntry, error) {
	var entries []zipEntry
	err := s.fs.Walk(baseSegments, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == baseAbs {
			return nil
		}
		rel, err := filepath.Rel(baseAbs, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !showHidden && hasHiddenComponent(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		arc := arcPrefix + rel
		if info.IsDir() {
			entries = append(entries, zipEntry{arcName: arc + "/", isDir: true})
		} else {
			entries = append(entries, zipEntry{arcName: arc, abs: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortZipEntries(entries)
	return entries, nil
}

func hasHiddenComponent(relSlash string) bool {
	for _, part := range strings.Split(relSlash, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func sortZipEntries(entries []zipEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(strings.TrimSuffix(entries[i].arcName, "/")) < strings.ToLower(strings.TrimSuffix(entries[j].arcName, "/"))
	})
}

// writeZip streams entries into a ZIP archive, checking cancellation
// between every file and between every chunk within a file.
func (s *Server) writeZip(w http.ResponseWriter, entries []zipEntry, ticket *runtime.TransferTicket) {
	zw := zip.NewWriter(w)
	defer zw.Close()

	for _, e := range entries {
		if ticket.Cancelled() {
			return
		}
		if e.isDir {
			if _, err := zw.Create(e.arcName); err != nil {
				return
			}
			continue
		}
		f, err := s.fs.OpenPath(e.abs)
		if err != nil {
			continue
		}
		dst, err := zw.Create(e.arcName)
		if err != nil {
			f.Close()
			return
		}
		streamWithCancellation(dst, f, ticket)
		f.Close()
		_ = zw.Flush()
	}
}
