package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"props2mcp/internal/model"
	"props2mcp/internal/schema"
)

const (
	toolNameTemplateParams = "props.get_template_params"
	toolNameGeocode        = "props.geocode_location"
	toolNameSearchTemplate = "props.search_template"
	toolNameStats          = "props.stats"
)

var toolOrder = []string{
	toolNameTemplateParams,
	toolNameGeocode,
	toolNameSearchTemplate,
	toolNameStats,
}

// templateParamPattern matches mustache value placeholders. Section tags
// like {{#distance}} fall outside the character class and are skipped.
var templateParamPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

type toolHandler func(context.Context, map[string]interface{}) (toolCallResult, *toolExecutionError)

type toolDefinition struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	InputSchema  map[string]interface{} `json:"inputSchema"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	handler      toolHandler            `json:"-"`
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type toolCallResult struct {
	Content           []toolContentItem `json:"content"`
	StructuredContent interface{}       `json:"structuredContent,omitempty"`
	IsError           bool              `json:"isError,omitempty"`
}

type toolContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type toolExecutionError struct {
	Code      string
	Message   string
	Retryable bool
}

type validationError struct {
	message       string
	canonicalCode string
}

func (e validationError) Error() string { return e.message }

func (s *Server) buildToolRegistry() map[string]toolDefinition {
	return map[string]toolDefinition{
		toolNameTemplateParams: {
			Name:        toolNameTemplateParams,
			Description: "List the parameters accepted by the stored properties search template.",
			InputSchema: emptyInputSchema(),
			handler:     s.handleTemplateParamsTool,
		},
		toolNameGeocode: {
			Name:        toolNameGeocode,
			Description: "Geocode a free-form location string into latitude/longitude.",
			InputSchema: geocodeInputSchema(),
			handler:     s.handleGeocodeTool,
		},
		toolNameSearchTemplate: {
			Name:        toolNameSearchTemplate,
			Description: "Execute the properties search template with normalized parameters.",
			InputSchema: searchTemplateInputSchema(),
			handler:     s.handleSearchTemplateTool,
		},
		toolNameStats: {
			Name:        toolNameStats,
			Description: "Ingestion progress and last-run summary.",
			InputSchema: emptyInputSchema(),
			handler:     s.handleStatsTool,
		},
	}
}

func (s *Server) handleToolsList(w http.ResponseWriter, id interface{}) {
	tools := make([]toolDefinition, 0, len(s.tools))

	for _, name := range toolOrder {
		if tool, ok := s.tools[name]; ok {
			tools = append(tools, tool)
		}
	}

	if len(tools) == 0 {
		names := make([]string, 0, len(s.tools))
		for name := range s.tools {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tools = append(tools, s.tools[name])
		}
	}

	writeResult(w, http.StatusOK, id, map[string]interface{}{
		"tools": tools,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, w http.ResponseWriter, rawParams json.RawMessage, id interface{}) {
	result, statusCode, rpcErr := s.processToolsCall(ctx, rawParams)
	if rpcErr != nil {
		writeResponse(w, statusCode, rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   rpcErr,
		})
		return
	}
	writeResult(w, statusCode, id, result)
}

func (s *Server) processToolsCall(ctx context.Context, rawParams json.RawMessage) (toolCallResult, int, *rpcError) {
	params, err := parseToolsCallParams(rawParams)
	if err != nil {
		canonicalCode := "INVALID_FIELD"
		var vErr validationError
		if errors.As(err, &vErr) && vErr.canonicalCode != "" {
			canonicalCode = vErr.canonicalCode
		}
		return toolCallResult{}, http.StatusBadRequest, &rpcError{
			Code:    -32600,
			Message: err.Error(),
			Data: &rpcErrorData{
				Code:      canonicalCode,
				Retryable: false,
			},
		}
	}

	tool, ok := s.tools[params.Name]
	if !ok {
		return newToolErrorResult(toolExecutionError{
			Code:      "METHOD_NOT_FOUND",
			Message:   fmt.Sprintf("unknown tool: %s", params.Name),
			Retryable: false,
		}), http.StatusOK, nil
	}

	result, toolErr := tool.handler(ctx, params.Arguments)
	if toolErr != nil {
		return newToolErrorResult(*toolErr), http.StatusOK, nil
	}

	return result, http.StatusOK, nil
}

func parseToolsCallParams(raw json.RawMessage) (toolsCallParams, error) {
	if len(raw) == 0 {
		return toolsCallParams{}, validationError{
			message:       "params is required",
			canonicalCode: "MISSING_FIELD",
		}
	}

	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return toolsCallParams{}, validationError{
			message:       "invalid tools/call params",
			canonicalCode: "INVALID_FIELD",
		}
	}

	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return toolsCallParams{}, validationError{
			message:       "tools/call params.name is required",
			canonicalCode: "MISSING_FIELD",
		}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	return params, nil
}

func newToolErrorResult(toolErr toolExecutionError) toolCallResult {
	text := fmt.Sprintf("ERROR: %s: %s", toolErr.Code, toolErr.Message)
	return toolCallResult{
		IsError: true,
		Content: []toolContentItem{
			{Type: "text", Text: text},
		},
		StructuredContent: map[string]interface{}{
			"error": map[string]interface{}{
				"code":      toolErr.Code,
				"message":   toolErr.Message,
				"retryable": toolErr.Retryable,
			},
		},
	}
}

func (s *Server) handleTemplateParamsTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{}); err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}

	if s.backend == nil {
		return toolCallResult{}, &toolExecutionError{Code: "BACKEND_UNAVAILABLE", Message: "search backend not configured", Retryable: false}
	}

	templateID := s.cfg.Elastic.SearchTemplateID
	source, err := s.backend.GetScriptSource(ctx, templateID)
	if err != nil {
		if errors.Is(err, model.ErrTemplateNotFound) {
			return toolCallResult{}, &toolExecutionError{
				Code:      "TEMPLATE_NOT_FOUND",
				Message:   fmt.Sprintf("search template %q is not installed; run the ingest command first", templateID),
				Retryable: false,
			}
		}
		return toolCallResult{}, &toolExecutionError{Code: "BACKEND_ERROR", Message: err.Error(), Retryable: true}
	}

	parameters := extractTemplateParams(source)

	structured := map[string]interface{}{
		"template_id": templateID,
		"parameters":  parameters,
	}
	return toolCallResult{
		Content: []toolContentItem{
			{Type: "text", Text: "Required parameters for properties search template:"},
			{Type: "text", Text: strings.Join(parameters, ", ")},
			{Type: "text", Text: "Parameter descriptions:"},
			{Type: "text", Text: schema.ParamDescriptions},
		},
		StructuredContent: structured,
	}, nil
}

// extractTemplateParams returns the deduplicated placeholder names found in
// a mustache template source, in order of first appearance.
func extractTemplateParams(source string) []string {
	seen := map[string]struct{}{}
	params := []string{}
	for _, match := range templateParamPattern.FindAllStringSubmatch(source, -1) {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		params = append(params, name)
	}
	return params
}

func (s *Server) handleGeocodeTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{
		"location": {},
	}); err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}

	location, ok, err := parseRequiredString(args, "location")
	if err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}
	if !ok {
		return toolCallResult{}, &toolExecutionError{Code: "MISSING_FIELD", Message: "location is required", Retryable: false}
	}

	if s.geocoder == nil {
		return toolCallResult{}, &toolExecutionError{
			Code:      "GEOCODER_UNAVAILABLE",
			Message:   "geocoding is not configured; set GOOGLE_MAPS_API_KEY",
			Retryable: false,
		}
	}

	point, geoErr := s.geocoder.Geocode(ctx, location)
	if geoErr != nil {
		code := "GEOCODE_FAILED"
		retryable := true
		if errors.Is(geoErr, model.ErrNoGeocodeResults) {
			code = "NO_RESULTS"
			retryable = false
		}
		return toolCallResult{}, &toolExecutionError{
			Code:      code,
			Message:   fmt.Sprintf("could not geocode location %q: %v", location, geoErr),
			Retryable: retryable,
		}
	}

	structured := map[string]interface{}{
		"latitude":  point.Latitude,
		"longitude": point.Longitude,
	}
	text := fmt.Sprintf("Geocoded %q to: {\"latitude\": %v, \"longitude\": %v}", location, point.Latitude, point.Longitude)
	return toolCallResult{
		Content:           []toolContentItem{{Type: "text", Text: text}},
		StructuredContent: structured,
	}, nil
}

func (s *Server) handleSearchTemplateTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{
		"original_query": {},
		"query":          {},
		"latitude":       {},
		"longitude":      {},
		"distance":       {},
		"tax":            {},
		"bedrooms":       {},
		"home_price":     {},
		"bathrooms":      {},
		"square_footage": {},
		"feature":        {},
		"maintenance":    {},
	}); err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}

	originalQuery, ok, err := parseRequiredString(args, "original_query")
	if err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}
	if !ok {
		return toolCallResult{}, &toolExecutionError{Code: "MISSING_FIELD", Message: "original_query is required", Retryable: false}
	}
	query, ok, err := parseRequiredString(args, "query")
	if err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}
	if !ok {
		return toolCallResult{}, &toolExecutionError{Code: "MISSING_FIELD", Message: "query is required", Retryable: false}
	}

	params := map[string]interface{}{"query": query}

	for _, key := range []string{"latitude", "longitude", "tax", "home_price", "bathrooms", "maintenance"} {
		value, present, numErr := parseOptionalNumberWithPresence(args, key)
		if numErr != nil {
			return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: numErr.Error(), Retryable: false}
		}
		if present {
			params[key] = value
		}
	}
	for _, key := range []string{"bedrooms", "square_footage"} {
		value, present, intErr := parseOptionalIntegerWithPresence(args, key)
		if intErr != nil {
			return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: intErr.Error(), Retryable: false}
		}
		if present {
			params[key] = value
		}
	}

	// distance arrives as a bare mile count and the template expects a
	// unit-qualified string.
	distance, hasDistance, err := parseOptionalIntegerWithPresence(args, "distance")
	if err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}
	if hasDistance {
		params["distance"] = fmt.Sprintf("%dmi", distance)
	}

	feature, err := parseOptionalString(args, "feature")
	if err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}
	if feature != "" {
		params["feature"] = feature
	}

	if s.backend == nil {
		return toolCallResult{}, &toolExecutionError{Code: "BACKEND_UNAVAILABLE", Message: "search backend not configured", Retryable: false}
	}

	index := s.cfg.Elastic.PropertiesIndex
	templateID := s.cfg.Elastic.SearchTemplateID
	if s.logger != nil {
		s.logger.Printf("search_template id=%s index=%s original_query=%q params=%d", templateID, index, originalQuery, len(params))
	}

	response, searchErr := s.backend.SearchTemplate(ctx, index, templateID, params)
	if searchErr != nil {
		return toolCallResult{}, &toolExecutionError{Code: "SEARCH_FAILED", Message: searchErr.Error(), Retryable: true}
	}

	if len(response.Hits) == 0 {
		structured := map[string]interface{}{
			"total":   response.Total,
			"results": []interface{}{},
		}
		return toolCallResult{
			Content: []toolContentItem{
				{Type: "text", Text: fmt.Sprintf("No results found for query: %s", originalQuery)},
			},
			StructuredContent: structured,
		}, nil
	}

	results := make([]map[string]interface{}, 0, len(response.Hits))
	for _, hit := range response.Hits {
		results = append(results, map[string]interface{}{
			"title":          hit.Field("title", "No title"),
			"tax":            hit.Field("annual-tax", "N/A"),
			"maintenance":    hit.Field("maintenance-fee", "N/A"),
			"bathrooms":      hit.Field("number-of-bathrooms", "N/A"),
			"bedrooms":       hit.Field("number-of-bedrooms", "N/A"),
			"square_footage": hit.Field("square-footage", "N/A"),
			"home_price":     hit.Field("home-price", "N/A"),
			"features":       hit.Field("property-features", "N/A"),
		})
	}

	formatted, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INTERNAL_ERROR", Message: err.Error(), Retryable: false}
	}

	structured := map[string]interface{}{
		"total":   response.Total,
		"results": results,
	}
	return toolCallResult{
		Content: []toolContentItem{
			{Type: "text", Text: fmt.Sprintf("Found %d properties matching your criteria. Here are the top %d results:", response.Total, len(response.Hits))},
			{Type: "text", Text: string(formatted)},
		},
		StructuredContent: structured,
	}, nil
}

func (s *Server) handleStatsTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{}); err != nil {
		return toolCallResult{}, &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
	}

	snapshot := s.state.Snapshot()
	structured := map[string]interface{}{
		"protocol_version": s.cfg.Server.ProtocolVersion,
		"raw_index":        s.cfg.Elastic.RawIndex,
		"properties_index": s.cfg.Elastic.PropertiesIndex,
		"inference_id":     s.cfg.Elastic.InferenceID,
		"ingest": map[string]interface{}{
			"run_id":    snapshot.RunID,
			"running":   snapshot.Running,
			"phase":     snapshot.Phase,
			"attempt":   snapshot.Attempt,
			"attempted": snapshot.Attempted,
			"decoded":   snapshot.Decoded,
			"succeeded": snapshot.Succeeded,
			"failed":    snapshot.Failed,
			"reindexed": snapshot.Reindexed,
		},
	}

	if s.ledger != nil {
		if run, ok, err := s.ledger.LastRun(ctx); err == nil && ok {
			structured["last_run"] = map[string]interface{}{
				"run_id":        run.RunID,
				"variant":       run.Variant,
				"started_at":    run.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
				"attempts":      run.Attempts,
				"success_count": run.SuccessCount,
				"error_count":   run.ErrorCount,
				"final_count":   run.FinalCount,
				"reindexed":     run.Reindexed,
				"succeeded":     run.Succeeded,
			}
		}
	}

	text := fmt.Sprintf(
		"ingest running=%t phase=%s succeeded=%d failed=%d reindexed=%d",
		snapshot.Running,
		snapshot.Phase,
		snapshot.Succeeded,
		snapshot.Failed,
		snapshot.Reindexed,
	)

	return toolCallResult{
		Content: []toolContentItem{
			{Type: "text", Text: text},
		},
		StructuredContent: structured,
	}, nil
}

func assertNoUnknownArguments(args map[string]interface{}, allowed map[string]struct{}) error {
	for key := range args {
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("unknown argument: %s", key)
		}
	}
	return nil
}

func parseRequiredString(args map[string]interface{}, key string) (string, bool, error) {
	raw, ok := args[key]
	if !ok {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", true, fmt.Errorf("%s must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", true, fmt.Errorf("%s must be a non-empty string", key)
	}
	return value, true, nil
}

func parseOptionalString(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(value), nil
}

func parseInteger(value interface{}, field string) (int, error) {
	switch v := value.(type) {
	case float64:
		if math.Trunc(v) != v {
			return 0, fmt.Errorf("%s must be an integer", field)
		}
		if v < math.MinInt || v > math.MaxInt {
			return 0, fmt.Errorf("%s is out of range", field)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		if v < math.MinInt || v > math.MaxInt {
			return 0, fmt.Errorf("%s is out of range", field)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s must be an integer", field)
	}
}

func parseOptionalIntegerWithPresence(args map[string]interface{}, key string) (int, bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	v, err := parseInteger(raw, key)
	if err != nil {
		return 0, true, err
	}
	return v, true, nil
}

func parseOptionalNumberWithPresence(args map[string]interface{}, key string) (float64, bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	default:
		return 0, true, fmt.Errorf("%s must be a number", key)
	}
}

func emptyInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           map[string]interface{}{},
	}
}

func geocodeInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"location": map[string]interface{}{"type": "string", "minLength": 1},
		},
		"required": []string{"location"},
	}
}

func searchTemplateInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"original_query": map[string]interface{}{"type": "string", "minLength": 1},
			"query":          map[string]interface{}{"type": "string", "minLength": 1},
			"latitude":       map[string]interface{}{"type": "number"},
			"longitude":      map[string]interface{}{"type": "number"},
			"distance":       map[string]interface{}{"type": "integer", "description": "Search radius in miles"},
			"tax":            map[string]interface{}{"type": "number"},
			"bedrooms":       map[string]interface{}{"type": "integer"},
			"home_price":     map[string]interface{}{"type": "number"},
			"bathrooms":      map[string]interface{}{"type": "number"},
			"square_footage": map[string]interface{}{"type": "integer"},
			"feature":        map[string]interface{}{"type": "string"},
			"maintenance":    map[string]interface{}{"type": "number"},
		},
		"required": []string{"original_query", "query"},
	}
}
