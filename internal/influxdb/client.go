package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/config"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/warehouse"
)

const (
	measurementReadings      = "sensor_readings"
	measurementInterventions = "interventions"
	measurementPredictions   = "frost_predictions"
)

// Client is a warehouse.Warehouse backed by InfluxDB v2
type Client struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	config   config.InfluxDBConfig
	logger   *slog.Logger
}

var _ warehouse.Warehouse = (*Client)(nil)

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Add a health check to verify credentials
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	logger.Info("influxdb_connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return &Client{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		config:   cfg,
		logger:   logger,
	}, nil
}

func fluxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (c *Client) query(ctx context.Context, flux string, each func(*query.FluxRecord) error) error {
	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return fmt.Errorf("influx query failed: %w", err)
	}
	defer result.Close()

	for result.Next() {
		if err := each(result.Record()); err != nil {
			return err
		}
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("influx query failed: %w", err)
	}
	return nil
}

// LatestReadingTime returns the newest sensor timestamp of the zone
func (c *Client) LatestReadingTime(ctx context.Context, zoneID string) (time.Time, bool, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r.zoneId == %q)
  |> keep(columns: ["_time"])
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)`, c.config.Bucket, measurementReadings, zoneID)

	var latest time.Time
	found := false
	err := c.query(ctx, flux, func(rec *query.FluxRecord) error {
		latest, found = rec.Time().UTC(), true
		return nil
	})
	return latest, found, err
}

// Readings fetches long-form readings in [from, to] and pivots them wide
func (c *Client) Readings(ctx context.Context, zoneID string, from, to time.Time) ([]models.WideReading, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.zoneId == %q and r._field == "value")
  |> keep(columns: ["_time", "_value", "field", "sensorId"])`,
		c.config.Bucket, fluxTime(from), fluxTime(to.Add(time.Nanosecond)), measurementReadings, zoneID)

	var long []models.Reading
	err := c.query(ctx, flux, func(rec *query.FluxRecord) error {
		v, ok := toFloat(rec.Value())
		if !ok {
			return nil
		}
		field, _ := rec.ValueByKey("field").(string)
		sensor, _ := rec.ValueByKey("sensorId").(string)
		long = append(long, models.Reading{
			Timestamp: rec.Time().UTC(),
			ZoneID:    zoneID,
			SensorID:  sensor,
			Field:     field,
			Value:     v,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models.PivotReadings(long), nil
}

// Interventions returns candle events in [from, to] preceded by the last
// event before from
func (c *Client) Interventions(ctx context.Context, zoneID string, from, to time.Time) ([]models.Intervention, error) {
	base := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %%s, stop: %%s)
  |> filter(fn: (r) => r._measurement == %q and r.zoneId == %q and r._field == "candlesOn")
  |> group()
  |> sort(columns: ["_time"])`, c.config.Bucket, measurementInterventions, zoneID)

	var events []models.Intervention
	collect := func(rec *query.FluxRecord) error {
		on, _ := rec.Value().(bool)
		events = append(events, models.Intervention{Timestamp: rec.Time().UTC(), ZoneID: zoneID, CandlesOn: on})
		return nil
	}

	prior := fmt.Sprintf(base, "0", fluxTime(from)) + "\n  |> last()"
	if err := c.query(ctx, prior, collect); err != nil {
		return nil, err
	}
	window := fmt.Sprintf(base, fluxTime(from), fluxTime(to.Add(time.Nanosecond)))
	if err := c.query(ctx, window, collect); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) predictionsFlux(zoneID string, start, stop time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.zoneId == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()`, c.config.Bucket, fluxTime(start), fluxTime(stop.Add(time.Nanosecond)), measurementPredictions, zoneID)
}

// MaturedUnresolved returns every unresolved prediction up to maturedBy, oldest first
func (c *Client) MaturedUnresolved(ctx context.Context, zoneID string, maturedBy time.Time, limit int) ([]models.Prediction, error) {
	flux := c.predictionsFlux(zoneID, time.Unix(0, 0), maturedBy) + `
  |> filter(fn: (r) => not exists r.trained_on_label and r.probability >= 0.0)
  |> sort(columns: ["_time"])`
	if limit > 0 {
		flux += fmt.Sprintf("\n  |> limit(n: %d)", limit)
	}

	var out []models.Prediction
	err := c.query(ctx, flux, func(rec *query.FluxRecord) error {
		out = append(out, predictionFromRecord(zoneID, rec))
		return nil
	})
	return out, err
}

// HasIngest reports whether a prediction tagged with ingestID exists since the given time
func (c *Client) HasIngest(ctx context.Context, zoneID, ingestID string, since time.Time) (bool, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q and r.zoneId == %q and r._field == "ingest_id" and r._value == %q)
  |> group()
  |> limit(n: 1)`, c.config.Bucket, fluxTime(since), measurementPredictions, zoneID, ingestID)

	found := false
	err := c.query(ctx, flux, func(*query.FluxRecord) error {
		found = true
		return nil
	})
	return found, err
}

// InsertPrediction writes a new unresolved prediction row
func (c *Client) InsertPrediction(ctx context.Context, p models.Prediction) error {
	point := write.NewPoint(measurementPredictions, map[string]string{"zoneId": p.ZoneID}, predictionFields(p), p.Timestamp)
	if err := c.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write prediction: %w", err)
	}
	return nil
}

// ResolvePrediction upserts the label fields onto an unresolved prediction.
// Points with the same series and timestamp merge their field sets.
func (c *Client) ResolvePrediction(ctx context.Context, r models.Resolution) error {
	var existing *models.Prediction
	err := c.query(ctx, c.predictionsFlux(r.ZoneID, r.Timestamp, r.Timestamp), func(rec *query.FluxRecord) error {
		if rec.Time().Equal(r.Timestamp) {
			p := predictionFromRecord(r.ZoneID, rec)
			existing = &p
		}
		return nil
	})
	if err != nil {
		return err
	}
	if existing == nil {
		return warehouse.ErrPredictionNotFound
	}
	if existing.Resolved() {
		return warehouse.ErrAlreadyResolved
	}

	fields := map[string]interface{}{
		"trained_on_label":   r.TrainedOnLabel,
		"label_window_start": fluxTime(r.LabelWindowStart),
		"label_window_end":   fluxTime(r.LabelWindowEnd),
	}
	if r.LabelFrostObserved != nil {
		fields["label_frost_observed"] = int64(*r.LabelFrostObserved)
	}
	if r.SkippedReason != nil {
		fields["skipped_reason"] = *r.SkippedReason
	}

	point := write.NewPoint(measurementPredictions, map[string]string{"zoneId": r.ZoneID}, fields, r.Timestamp)
	if err := c.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to resolve prediction: %w", err)
	}
	return nil
}

// Close closes the InfluxDB client
func (c *Client) Close() {
	c.client.Close()
}

// predictionFields always carries skipped_reason so that a real prediction
// written over a sentinel at the same anchor clears the sentinel's reason.
func predictionFields(p models.Prediction) map[string]interface{} {
	fields := map[string]interface{}{
		"probability":         p.Probability,
		"probability_percent": p.ProbabilityPercent,
		"model_version":       p.ModelVersion,
		"triggered_at":        fluxTime(p.TriggeredAt),
		"skipped_reason":      "",
	}
	if p.FeaturesHash != "" {
		fields["features_hash"] = p.FeaturesHash
	}
	if p.IngestID != "" {
		fields["ingest_id"] = p.IngestID
	}
	if p.SkippedReason != nil {
		fields["skipped_reason"] = *p.SkippedReason
	}
	return fields
}

func predictionFromRecord(zoneID string, rec *query.FluxRecord) models.Prediction {
	vals := rec.Values()
	p := models.Prediction{Timestamp: rec.Time().UTC(), ZoneID: zoneID}

	p.Probability, _ = toFloat(vals["probability"])
	p.ProbabilityPercent, _ = toFloat(vals["probability_percent"])
	p.ModelVersion, _ = vals["model_version"].(string)
	p.FeaturesHash, _ = vals["features_hash"].(string)
	p.IngestID, _ = vals["ingest_id"].(string)
	if s, ok := vals["triggered_at"].(string); ok {
		p.TriggeredAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	if b, ok := vals["trained_on_label"].(bool); ok {
		p.TrainedOnLabel = &b
	}
	if n, ok := vals["label_frost_observed"].(int64); ok {
		label := int(n)
		p.LabelFrostObserved = &label
	}
	if s, ok := vals["skipped_reason"].(string); ok && s != "" {
		p.SkippedReason = &s
	}
	for key, dst := range map[string]**time.Time{
		"label_window_start": &p.LabelWindowStart,
		"label_window_end":   &p.LabelWindowEnd,
	} {
		if s, ok := vals[key].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				*dst = &t
			}
		}
	}
	return p
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
