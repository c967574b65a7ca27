package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinyseries/pkg/adapter"
	"github.com/nicktill/tinyseries/pkg/httpx"
	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/query"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// newRouter builds the command-surface HTTP router: every ts.* command
// from spec.md §6 as a JSON endpoint under /v1, generalizing
// ingest.Handler's typed-request/response-plus-httpx.RespondError shape
// from a single /v1/ingest route to the full adapter command table.
func newRouter(h *Host, hub *SeriesHub) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/create", handleCreate(h)).Methods("POST")
	api.HandleFunc("/alter", handleAlter(h)).Methods("POST")
	api.HandleFunc("/del", handleDel(h)).Methods("POST")
	api.HandleFunc("/add", handleAdd(h, hub)).Methods("POST")
	api.HandleFunc("/madd", handleMAdd(h, hub)).Methods("POST")
	api.HandleFunc("/incrby", handleIncrDecr(h, hub, 1)).Methods("POST")
	api.HandleFunc("/decrby", handleIncrDecr(h, hub, -1)).Methods("POST")
	api.HandleFunc("/get", handleGet(h)).Methods("GET")
	api.HandleFunc("/mget", handleMGet(h)).Methods("GET")
	api.HandleFunc("/range", handleRange(h)).Methods("GET")
	api.HandleFunc("/mrange", handleMRange(h)).Methods("GET")
	api.HandleFunc("/query", handleQuery(h)).Methods("GET", "POST")
	api.HandleFunc("/query_range", handleQueryRange(h)).Methods("GET", "POST")
	api.HandleFunc("/card", handleCard(h)).Methods("GET")
	api.HandleFunc("/labelnames", handleLabelNames(h)).Methods("GET")
	api.HandleFunc("/labelvalues", handleLabelValues(h)).Methods("GET")
	api.HandleFunc("/queryindex", handleQueryIndex(h)).Methods("GET")
	api.HandleFunc("/stats", handleStats(h)).Methods("GET")
	api.HandleFunc("/storage", handleStorage(h)).Methods("GET")
	api.HandleFunc("/health", handleHealth(h)).Methods("GET")
	api.HandleFunc("/ws", hub.HandleSubscribe()).Methods("GET")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps a command error's tserr.Kind onto an HTTP status code.
func statusFor(err error) int {
	switch tserr.KindOf(err) {
	case tserr.NotFound:
		return http.StatusNotFound
	case tserr.ParseError, tserr.ArgsError, tserr.WrongType:
		return http.StatusBadRequest
	case tserr.ConstraintViolation, tserr.DuplicateBlocked:
		return http.StatusConflict
	case tserr.QueryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// --- write commands ---

type createRequest struct {
	Key               string            `json:"key"`
	RetentionMS       int64             `json:"retention_ms"`
	Encoding          string            `json:"encoding"`
	ChunkSize         int               `json:"chunk_size"`
	DuplicatePolicy   string            `json:"duplicate_policy"`
	IgnoreMaxTimeDiff int64             `json:"ignore_max_time_diff"`
	IgnoreMaxValDiff  float64           `json:"ignore_max_val_diff"`
	Labels            map[string]string `json:"labels"`
}

func handleCreate(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		opts := adapter.DefaultCreateOptions()
		opts.Labels = req.Labels
		if req.RetentionMS > 0 {
			opts.RetentionMS = req.RetentionMS
		}
		if req.ChunkSize > 0 {
			opts.ChunkSize = req.ChunkSize
		}
		opts.IgnoreMaxTimeDiff = req.IgnoreMaxTimeDiff
		opts.IgnoreMaxValDiff = req.IgnoreMaxValDiff

		if req.Encoding != "" {
			enc, err := adapter.ParseEncoding(req.Encoding)
			if err != nil {
				httpx.RespondError(w, statusFor(err), err)
				return
			}
			opts.Encoding = enc
		}
		if req.DuplicatePolicy != "" {
			pol, err := adapter.ParseDuplicatePolicy(req.DuplicatePolicy)
			if err != nil {
				httpx.RespondError(w, statusFor(err), err)
				return
			}
			opts.DuplicatePolicy = pol
		}

		if err := h.Engine.Create(req.Key, opts); err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		h.MarkDirty(req.Key)
		httpx.RespondJSON(w, http.StatusCreated, map[string]string{"status": "created"})
	}
}

type alterRequest struct {
	Key               string            `json:"key"`
	RetentionMS       *int64            `json:"retention_ms"`
	DuplicatePolicy   *string           `json:"duplicate_policy"`
	IgnoreMaxTimeDiff *int64            `json:"ignore_max_time_diff"`
	IgnoreMaxValDiff  *float64          `json:"ignore_max_val_diff"`
	ChunkSize         *int              `json:"chunk_size"`
	Labels            map[string]string `json:"labels"`
}

func handleAlter(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req alterRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		opts := adapter.AlterOptions{
			RetentionMS:       req.RetentionMS,
			IgnoreMaxTimeDiff: req.IgnoreMaxTimeDiff,
			IgnoreMaxValDiff:  req.IgnoreMaxValDiff,
			ChunkSize:         req.ChunkSize,
			Labels:            req.Labels,
		}
		if req.DuplicatePolicy != nil {
			pol, err := adapter.ParseDuplicatePolicy(*req.DuplicatePolicy)
			if err != nil {
				httpx.RespondError(w, statusFor(err), err)
				return
			}
			opts.DuplicatePolicy = &pol
		}
		if err := h.Engine.Alter(req.Key, opts); err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		h.MarkDirty(req.Key)
		httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "altered"})
	}
}

func handleDel(h *Host) http.HandlerFunc {
	type req struct {
		Key  string `json:"key"`
		From string `json:"from"`
		To   string `json:"to"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeJSON(w, r, &body) {
			return
		}
		now := time.Now().UnixMilli()
		from, err := adapter.ParseTimestamp(body.From, now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		to, err := adapter.ParseTimestamp(body.To, now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		n, err := h.Engine.Del(body.Key, from, to)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		h.MarkDirty(body.Key)
		httpx.RespondJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

type addRequest struct {
	Key string  `json:"key"`
	TS  string  `json:"ts"`
	Val float64 `json:"val"`
}

func handleAdd(h *Host, hub *SeriesHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		now := time.Now().UnixMilli()
		ts, err := adapter.ParseTimestamp(req.TS, now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		outcome, err := h.Engine.Add(req.Key, ts, req.Val)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		h.MarkDirty(req.Key)
		hub.Publish(req.Key, adapter.Sample{TS: ts, Val: req.Val})
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"outcome": outcomeString(outcome), "ts": ts})
	}
}

func handleMAdd(h *Host, hub *SeriesHub) http.HandlerFunc {
	type row struct {
		Key string  `json:"key"`
		TS  string  `json:"ts"`
		Val float64 `json:"val"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []row
		if !decodeJSON(w, r, &rows) {
			return
		}
		now := time.Now().UnixMilli()
		triples := make([]adapter.AddTriple, len(rows))
		for i, rw := range rows {
			ts, err := adapter.ParseTimestamp(rw.TS, now)
			if err != nil {
				httpx.RespondError(w, statusFor(err), err)
				return
			}
			triples[i] = adapter.AddTriple{Key: rw.Key, TS: ts, Val: rw.Val}
		}
		results, accepted, total := h.Engine.MAdd(triples)
		seen := make(map[string]bool)
		for i, t := range triples {
			if results[i].Outcome == adapter.AddAccepted && !seen[t.Key] {
				seen[t.Key] = true
				h.MarkDirty(t.Key)
				hub.Publish(t.Key, adapter.Sample{TS: t.TS, Val: t.Val})
			}
		}
		out := make([]map[string]interface{}, len(results))
		for i, res := range results {
			entry := map[string]interface{}{"outcome": outcomeString(res.Outcome)}
			if res.Err != nil {
				entry["error"] = res.Err.Error()
			}
			out[i] = entry
		}
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"results":  out,
			"accepted": accepted,
			"total":    total,
		})
	}
}

func handleIncrDecr(h *Host, hub *SeriesHub, sign float64) http.HandlerFunc {
	type req struct {
		Key   string  `json:"key"`
		Delta float64 `json:"delta"`
		TS    string  `json:"ts"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeJSON(w, r, &body) {
			return
		}
		now := time.Now().UnixMilli()
		ts, err := adapter.ParseTimestamp(body.TS, now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		var next float64
		if sign < 0 {
			next, err = h.Engine.DecrBy(body.Key, body.Delta, ts)
		} else {
			next, err = h.Engine.IncrBy(body.Key, body.Delta, ts)
		}
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		h.MarkDirty(body.Key)
		hub.Publish(body.Key, adapter.Sample{TS: ts, Val: next})
		httpx.RespondJSON(w, http.StatusOK, map[string]float64{"value": next})
	}
}

func outcomeString(o adapter.AddOutcome) string {
	switch o {
	case adapter.AddAccepted:
		return "accepted"
	case adapter.AddBlocked:
		return "blocked"
	default:
		return "ignored"
	}
}

// --- read commands ---

func handleGet(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		latest := r.URL.Query().Get("latest") == "true"
		s, ok, err := h.Engine.Get(key, latest)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		if !ok {
			httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"empty": true})
			return
		}
		httpx.RespondJSON(w, http.StatusOK, s)
	}
}

func parseFilterParam(r *http.Request) ([][]index.Matcher, error) {
	return adapter.ParseFilter(r.URL.Query()["filter"])
}

func handleMGet(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := parseFilterParam(r)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		q := r.URL.Query()
		opts := adapter.MGetOptions{
			WithLabels:     q.Get("with_labels") == "true",
			SelectedLabels: splitCommaList(q.Get("selected_labels")),
		}
		out, err := h.Engine.MGet(groups, opts)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, out)
	}
}

func parseRangeWindow(q map[string][]string, now int64) (from, to int64, err error) {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	from, err = adapter.ParseTimestamp(get("from"), now)
	if err != nil {
		return 0, 0, err
	}
	to, err = adapter.ParseTimestamp(get("to"), now)
	return from, to, err
}

func parseRangeOptions(q map[string][]string) (adapter.RangeOptions, error) {
	var opts adapter.RangeOptions
	if v, ok := q["filter_by_ts"]; ok && len(v) > 0 {
		opts.FilterByTS = make(map[int64]bool, len(v))
		for _, tok := range v {
			for _, part := range splitCommaList(tok) {
				ts, err := strconv.ParseInt(part, 10, 64)
				if err != nil {
					return opts, tserr.Wrap(tserr.ParseError, err, "invalid FILTER_BY_TS %q", part)
				}
				opts.FilterByTS[ts] = true
			}
		}
	}
	if v, ok := q["count"]; ok && len(v) > 0 {
		n, err := strconv.Atoi(v[0])
		if err != nil {
			return opts, tserr.Wrap(tserr.ParseError, err, "invalid COUNT %q", v[0])
		}
		opts.Count = n
	}
	if v, ok := q["value_min"]; ok && len(v) > 0 {
		f, err := strconv.ParseFloat(v[0], 64)
		if err != nil {
			return opts, tserr.Wrap(tserr.ParseError, err, "invalid value_min %q", v[0])
		}
		opts.FilterValMin = &f
	}
	if v, ok := q["value_max"]; ok && len(v) > 0 {
		f, err := strconv.ParseFloat(v[0], 64)
		if err != nil {
			return opts, tserr.Wrap(tserr.ParseError, err, "invalid value_max %q", v[0])
		}
		opts.FilterValMax = &f
	}
	if v, ok := q["bucket"]; ok && len(v) > 0 {
		d, err := adapter.ParseDuration(v[0])
		if err != nil {
			return opts, err
		}
		agg := "avg"
		if a, ok := q["aggregation"]; ok && len(a) > 0 {
			agg = a[0]
		}
		opts.Bucket = &query.BucketSpec{Size: d.Milliseconds(), Aggregation: agg}
	}
	return opts, nil
}

func handleRange(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UnixMilli()
		q := r.URL.Query()
		from, to, err := parseRangeWindow(q, now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		opts, err := parseRangeOptions(q)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		samples, err := h.Engine.Range(q.Get("key"), from, to, opts)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, samples)
	}
}

func handleMRange(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UnixMilli()
		q := r.URL.Query()
		groups, err := parseFilterParam(r)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		from, to, err := parseRangeWindow(q, now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		rangeOpts, err := parseRangeOptions(q)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		opts := adapter.MRangeOptions{
			Range:   rangeOpts,
			GroupBy: q.Get("groupby"),
			Reduce:  q.Get("reduce"),
		}
		out, err := h.Engine.MRange(from, to, groups, opts)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, out)
	}
}

type queryResultDTO struct {
	Series []querySeriesDTO `json:"series"`
}

type querySeriesDTO struct {
	Labels map[string]string `json:"labels"`
	Points []adapter.Sample  `json:"points"`
}

func toResultDTO(res *query.Result) queryResultDTO {
	out := queryResultDTO{Series: make([]querySeriesDTO, len(res.Series))}
	for i, s := range res.Series {
		labels := make(map[string]string)
		s.Labels.Range(func(name, value string) { labels[name] = value })
		points := make([]adapter.Sample, len(s.Points))
		for j, p := range s.Points {
			points[j] = adapter.Sample{TS: p.TS, Val: p.Val}
		}
		out.Series[i] = querySeriesDTO{Labels: labels, Points: points}
	}
	return out
}

func queryOptionsFrom(q map[string][]string) adapter.QueryOptions {
	var opts adapter.QueryOptions
	if v, ok := q["step"]; ok && len(v) > 0 {
		if d, err := adapter.ParseDuration(v[0]); err == nil {
			opts.Step = d
		}
	}
	if v, ok := q["timeout"]; ok && len(v) > 0 {
		if d, err := adapter.ParseDuration(v[0]); err == nil {
			opts.Timeout = d
		}
	}
	return opts
}

func handleQuery(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		now := time.Now().UnixMilli()
		at, err := adapter.ParseTimestamp(firstOr(q, "time", "*"), now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		res, err := h.Engine.Query(q.Get("expr"), at, queryOptionsFrom(q))
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, toResultDTO(res))
	}
}

func handleQueryRange(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		now := time.Now().UnixMilli()
		start, end, err := parseRangeWindow(q, now)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		res, err := h.Engine.QueryRange(q.Get("expr"), start, end, queryOptionsFrom(q))
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, toResultDTO(res))
	}
}

func firstOr(q map[string][]string, key, def string) string {
	if v, ok := q[key]; ok && len(v) > 0 && v[0] != "" {
		return v[0]
	}
	return def
}

func handleCard(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := parseFilterParam(r)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		q := r.URL.Query()
		var opts adapter.CardOptions
		now := time.Now().UnixMilli()
		if q.Get("start") != "" {
			from, err := adapter.ParseTimestamp(q.Get("start"), now)
			if err != nil {
				httpx.RespondError(w, statusFor(err), err)
				return
			}
			opts.Start = &from
		}
		if q.Get("end") != "" {
			to, err := adapter.ParseTimestamp(q.Get("end"), now)
			if err != nil {
				httpx.RespondError(w, statusFor(err), err)
				return
			}
			opts.End = &to
		}
		n, err := h.Engine.Card(groups, opts)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, map[string]uint64{"cardinality": n})
	}
}

func handleLabelNames(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, h.Engine.LabelNames())
	}
}

func handleLabelValues(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, h.Engine.LabelValues(r.URL.Query().Get("name")))
	}
}

func handleQueryIndex(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := parseFilterParam(r)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		out, err := h.Engine.QueryIndex(groups)
		if err != nil {
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, out)
	}
}

func handleStats(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		httpx.RespondJSON(w, http.StatusOK, h.Engine.Stats(splitCommaList(q.Get("labels")), limit))
	}
}

func handleStorage(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		used, limit, err := h.StorageUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, map[string]int64{"used_bytes": used, "max_bytes": limit})
	}
}

func handleHealth(h *Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.PersistHealth()
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		httpx.RespondJSON(w, code, status)
	}
}
