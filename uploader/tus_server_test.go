package uploader_test

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

type (
	recordedRequest struct {
		method string
		path   string
		header http.Header
		body   []byte
	}

	serverUpload struct {
		length   int64
		data     []byte
		metadata string
		partial  bool
	}

	// 测试用的 tus 服务端
	tusServer struct {
		t         *testing.T
		server    *httptest.Server
		mu        sync.Mutex
		uploads   map[string]*serverUpload
		nextID    int
		requests  []recordedRequest
		intercept func(w http.ResponseWriter, r *http.Request, body []byte) bool
	}
)

func newTusServer(t *testing.T) *tusServer {
	s := &tusServer{t: t, uploads: make(map[string]*serverUpload)}

	router := mux.NewRouter()
	router.HandleFunc("/files/", s.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/files/{id}", s.handleHead).Methods(http.MethodHead)
	router.HandleFunc("/files/{id}", s.handlePatch).Methods(http.MethodPatch)
	router.HandleFunc("/files/{id}", s.handlePatch).Methods(http.MethodPost).Headers("X-HTTP-Method-Override", http.MethodPatch)
	router.HandleFunc("/files/{id}", s.handleDelete).Methods(http.MethodDelete)

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: body})
		intercept := s.intercept
		s.mu.Unlock()

		if intercept != nil && intercept(w, r, body) {
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *tusServer) endpoint() string {
	return s.server.URL + "/files/"
}

func (s *tusServer) setIntercept(intercept func(w http.ResponseWriter, r *http.Request, body []byte) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = intercept
}

// 直接在服务端创建上传，返回上传地址
func (s *tusServer) addUpload(length int64, data string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	s.uploads[id] = &serverUpload{length: length, data: []byte(data)}
	return s.server.URL + "/files/" + id
}

func (s *tusServer) upload(uploadURL string) *serverUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := url.Parse(uploadURL)
	if err != nil {
		return nil
	}
	return s.uploads[strings.TrimPrefix(u.Path, "/files/")]
}

func (s *tusServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func (s *tusServer) recordedMethods() []string {
	requests := s.recorded()
	methods := make([]string, 0, len(requests))
	for _, req := range requests {
		methods = append(methods, req.method)
	}
	return methods
}

func (s *tusServer) newID() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func (s *tusServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload := &serverUpload{length: -1, metadata: r.Header.Get("Upload-Metadata")}
	if concat := r.Header.Get("Upload-Concat"); strings.HasPrefix(concat, "final;") {
		for _, partURL := range strings.Split(strings.TrimPrefix(concat, "final;"), " ") {
			u, err := url.Parse(partURL)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			part, ok := s.uploads[strings.TrimPrefix(u.Path, "/files/")]
			if !ok || !part.partial || int64(len(part.data)) != part.length {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			upload.data = append(upload.data, part.data...)
		}
		upload.length = int64(len(upload.data))
	} else {
		upload.partial = concat == "partial"
		if length := r.Header.Get("Upload-Length"); length != "" {
			n, err := strconv.ParseInt(length, 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			upload.length = n
		} else if r.Header.Get("Upload-Defer-Length") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		upload.data = append(upload.data, body...)
	}

	id := s.newID()
	s.uploads[id] = upload
	w.Header().Set("Location", "/files/"+id)
	w.Header().Set("Upload-Offset", strconv.Itoa(len(upload.data)))
	w.WriteHeader(http.StatusCreated)
}

func (s *tusServer) handleHead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.uploads[mux.Vars(r)["id"]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Upload-Offset", strconv.Itoa(len(upload.data)))
	if upload.length >= 0 {
		w.Header().Set("Upload-Length", strconv.FormatInt(upload.length, 10))
	} else {
		w.Header().Set("Upload-Defer-Length", "1")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *tusServer) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.uploads[mux.Vars(r)["id"]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	offset, err := strconv.Atoi(r.Header.Get("Upload-Offset"))
	if err != nil || offset != len(upload.data) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	if length := r.Header.Get("Upload-Length"); length != "" && upload.length < 0 {
		if upload.length, err = strconv.ParseInt(length, 10, 64); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	body, _ := io.ReadAll(r.Body)
	upload.data = append(upload.data, body...)
	if upload.length >= 0 && int64(len(upload.data)) > upload.length {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	w.Header().Set("Upload-Offset", strconv.Itoa(len(upload.data)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *tusServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := mux.Vars(r)["id"]
	if _, ok := s.uploads[id]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(s.uploads, id)
	w.WriteHeader(http.StatusNoContent)
}

func decodeMetadata(t *testing.T, header string) map[string]string {
	metadata := make(map[string]string)
	if header == "" {
		return metadata
	}
	for _, pair := range strings.Split(header, ",") {
		fields := strings.SplitN(pair, " ", 2)
		if len(fields) == 1 {
			metadata[fields[0]] = ""
			continue
		}
		value, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			t.Fatal(err)
		}
		metadata[fields[0]] = string(value)
	}
	return metadata
}
