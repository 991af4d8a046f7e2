// Package telemetry wires OpenTelemetry tracing and log export for the CLI.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlplog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/denysvitali/deployment-downloader/pkg/config"
)

const (
	ServiceName    = "deployment-downloader"
	ServiceVersion = "1.0.0"

	shutdownTimeout = 5 * time.Second
)

// Initialize installs global trace and log providers whose exporters are
// chosen by autoexport from the OTEL_* environment. The returned function
// flushes and stops them. A failing log exporter only disables log export.
func Initialize(cfg config.TelemetryConfig, logger *logrus.Logger) (func(), error) {
	// autoexport only reads the environment
	if cfg.Endpoint != "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		if err := os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Endpoint); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(ServiceName),
		semconv.ServiceVersionKey.String(ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	tracerProvider, err := newTracerProvider(ctx, res)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	loggerProvider, err := newLoggerProvider(ctx, res)
	if err != nil {
		logger.Warnf("Log export disabled: %v", err)
	} else {
		global.SetLoggerProvider(loggerProvider)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{tracerProvider.Shutdown(ctx)}
		if loggerProvider != nil {
			errs = append(errs, loggerProvider.Shutdown(ctx))
		}
		if err := errors.Join(errs...); err != nil {
			logger.Warnf("Error shutting down telemetry: %v", err)
		}
	}, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}

// ReportJSON publishes data as a debug span and log record. Top-level scalar
// fields of its JSON form become span attributes prefixed with "data.";
// nested values only appear in the full JSON body.
func ReportJSON(ctx context.Context, logger *logrus.Logger, operationName string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("Failed to marshal data to JSON: %v", err)
		return
	}

	kind, fields := jsonFields(jsonData)
	reportJSONInTrace(ctx, operationName, jsonData, kind, fields)
	reportJSONInLogs(ctx, logger, operationName, jsonData, kind)
}

func reportJSONInTrace(ctx context.Context, operationName string, jsonData []byte, kind string, fields []attribute.KeyValue) {
	_, span := otel.Tracer(ServiceName).Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("json.data", string(jsonData)),
		attribute.String("data.type", kind),
	)
	span.SetAttributes(fields...)
}

func reportJSONInLogs(ctx context.Context, logger *logrus.Logger, operationName string, jsonData []byte, kind string) {
	logger.WithFields(logrus.Fields{
		"operation": operationName,
		"json_data": string(jsonData),
		"data_type": kind,
	}).Debug("JSON data reported")

	var record otlplog.Record
	record.SetTimestamp(time.Now())
	record.SetObservedTimestamp(time.Now())
	record.SetSeverity(otlplog.SeverityDebug)
	record.SetSeverityText("DEBUG")
	record.SetBody(otlplog.StringValue(string(jsonData)))
	record.AddAttributes(
		otlplog.String("operation", operationName),
		otlplog.String("data_type", kind),
	)
	global.GetLoggerProvider().Logger(ServiceName).Emit(ctx, record)
}

// jsonFields returns the JSON kind of jsonData and, for objects, one
// attribute per top-level scalar field in key order
func jsonFields(jsonData []byte) (string, []attribute.KeyValue) {
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return "invalid", nil
	}

	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fields := make([]attribute.KeyValue, 0, len(keys))
		for _, key := range keys {
			if kv, ok := scalarAttribute("data."+key, v[key]); ok {
				fields = append(fields, kv)
			}
		}
		return "object", fields
	case []interface{}:
		return "array", nil
	case string:
		return "string", nil
	case json.Number:
		return "number", nil
	case bool:
		return "boolean", nil
	default:
		return "null", nil
	}
}

func scalarAttribute(key string, value interface{}) (attribute.KeyValue, bool) {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v), true
	case bool:
		return attribute.Bool(key, v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return attribute.Int64(key, n), true
		}
		if f, err := v.Float64(); err == nil {
			return attribute.Float64(key, f), true
		}
	}
	return attribute.KeyValue{}, false
}
