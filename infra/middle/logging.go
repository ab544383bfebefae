package middle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tahsilat/sanalpos/infra/opensearch"
)

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	startTime  time.Time
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
		startTime:      time.Now(),
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// PaymentLoggingMiddleware creates a middleware for logging payment requests/responses
func PaymentLoggingMiddleware(logger *opensearch.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip logging for non-payment endpoints
			if !isPaymentEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// Generate request ID
			requestID := uuid.New().String()
			r.Header.Set("X-Request-ID", requestID)

			// Capture request body
			var requestBody []byte
			if r.Body != nil {
				requestBody, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			}

			// Create response writer wrapper
			rw := newResponseWriter(w)

			// Process request
			next.ServeHTTP(rw, r)

			paymentLog := opensearch.PaymentLog{
				Timestamp: rw.startTime,
				Gateway:   extractGateway(string(requestBody), rw.body.String()),
				Method:    r.Method,
				Endpoint:  r.URL.Path,
				RequestID: requestID,
				UserAgent: r.UserAgent(),
				ClientIP:  GetClientIP(r),
				Request: opensearch.RequestLog{
					Body: opensearch.SanitizeForLog(string(requestBody)),
				},
				Response: opensearch.ResponseLog{
					StatusCode:       rw.statusCode,
					Body:             opensearch.SanitizeForLog(rw.body.String()),
					ProcessingTimeMs: time.Since(rw.startTime).Milliseconds(),
				},
			}

			// Extract payment information from request/response
			if paymentInfo := extractPaymentInfo(string(requestBody), rw.body.String()); paymentInfo != nil {
				paymentLog.PaymentInfo = *paymentInfo
				paymentLog.Reference = paymentInfo.OrderID
			}

			// Extract error information if response indicates error
			if rw.statusCode >= 400 {
				if errorInfo := extractErrorInfo(rw.body.String()); errorInfo != nil {
					paymentLog.Error = *errorInfo
				}
			}

			// Log to OpenSearch asynchronously to avoid blocking the response
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				// Never fail the request because the audit sink is down.
				_ = logger.LogPaymentRequest(ctx, paymentLog)
			}()
		})
	}
}

// isPaymentEndpoint checks if the URL path is a payment-related endpoint
func isPaymentEndpoint(path string) bool {
	paymentPaths := []string{
		"/v1/payments",
		"/v1/callback",
		"/v1/refunds",
		"/v1/cancellations",
	}

	for _, paymentPath := range paymentPaths {
		if strings.HasPrefix(path, paymentPath) {
			return true
		}
	}

	return false
}

// extractGateway pulls the gateway type from the request or response body
func extractGateway(requestBody, responseBody string) string {
	for _, body := range []string{requestBody, responseBody} {
		if body == "" {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			continue
		}
		if gw, ok := data["gateway"].(string); ok && gw != "" {
			return gw
		}
		if nested, ok := data["data"].(map[string]any); ok {
			if gw, ok := nested["gateway"].(string); ok && gw != "" {
				return gw
			}
		}
	}
	return "default"
}

// extractPaymentInfo extracts payment information from request/response bodies
func extractPaymentInfo(requestBody, responseBody string) *opensearch.PaymentInfo {
	paymentInfo := &opensearch.PaymentInfo{}

	// Try to extract from request body first
	if requestBody != "" {
		var requestData map[string]any
		if err := json.Unmarshal([]byte(requestBody), &requestData); err == nil {
			if amount, ok := requestData["amount"].(float64); ok {
				paymentInfo.Amount = amount
			}
			if currency, ok := requestData["currency"].(string); ok {
				paymentInfo.Currency = currency
			}
			if count, ok := requestData["installmentCount"].(float64); ok {
				paymentInfo.InstallmentCount = int(count)
			}
			if email, ok := requestData["email"].(string); ok {
				paymentInfo.CustomerEmail = email
			}
			if reference, ok := requestData["reference"].(string); ok {
				paymentInfo.OrderID = reference
			}
		}
	}

	// Try to extract from response body
	if responseBody != "" {
		var responseData map[string]any
		if err := json.Unmarshal([]byte(responseBody), &responseData); err == nil {
			// Check for nested data structure
			if data, ok := responseData["data"].(map[string]any); ok {
				if txn, ok := data["transaction"].(map[string]any); ok {
					data = txn
				}
				if reference, ok := data["reference"].(string); ok {
					paymentInfo.OrderID = reference
				}
				if state, ok := data["state"].(string); ok {
					paymentInfo.State = state
				}
				if use3d, ok := data["secure3d"].(bool); ok {
					paymentInfo.Use3D = use3d
				}
				if mdStatus, ok := data["mdStatus"].(string); ok {
					paymentInfo.MDStatus = mdStatus
				}
			}
		}
	}

	// Return nil if no useful payment information was found
	if paymentInfo.OrderID == "" && paymentInfo.Amount == 0 && paymentInfo.Currency == "" {
		return nil
	}

	return paymentInfo
}

// extractErrorInfo extracts error information from response body
func extractErrorInfo(responseBody string) *opensearch.ErrorInfo {
	if responseBody == "" {
		return nil
	}

	var responseData map[string]any
	if err := json.Unmarshal([]byte(responseBody), &responseData); err != nil {
		return nil
	}

	errorInfo := &opensearch.ErrorInfo{}

	// Try different error formats
	if errorMsg, ok := responseData["error"].(string); ok {
		errorInfo.Message = errorMsg
	} else if errorMsg, ok := responseData["message"].(string); ok {
		errorInfo.Message = errorMsg
	}

	if errorCode, ok := responseData["errorCode"].(string); ok {
		errorInfo.Code = errorCode
	} else if code, ok := responseData["code"].(string); ok {
		errorInfo.Code = code
	}

	// Return nil if no error information found
	if errorInfo.Code == "" && errorInfo.Message == "" {
		return nil
	}

	return errorInfo
}
