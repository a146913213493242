package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
)

// transaction implements catalog.Tx over a single pgx.Tx. All methods run
// within the transaction passed to Store.WithTx's closure.
type transaction struct {
	tx pgx.Tx
}

// UpsertEndpoint implements §4.4 step 2: insert-or-update (ip,port) with
// scan_date := now. When the row existed and preserveVerified is true,
// verified is left untouched; otherwise it is set from status.
func (t *transaction) UpsertEndpoint(
	ctx context.Context, key endpoint.Key, scanDate time.Time, status endpoint.UpsertStatus, preserveVerified bool,
) (*endpoint.Endpoint, error) {
	verifiedValue := endpoint.VerifiedNever
	if status == endpoint.ScanStatusVerified {
		verifiedValue = endpoint.VerifiedOK
	}

	var row pgx.Row
	if preserveVerified {
		row = t.tx.QueryRow(ctx,
			`INSERT INTO endpoints (ip, port, scan_date, verified)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (ip, port) DO UPDATE SET scan_date = EXCLUDED.scan_date
			 RETURNING `+endpointColumns,
			key.IP, key.Port, scanDate, int(verifiedValue))
	} else {
		row = t.tx.QueryRow(ctx,
			`INSERT INTO endpoints (ip, port, scan_date, verified)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (ip, port) DO UPDATE SET scan_date = EXCLUDED.scan_date, verified = EXCLUDED.verified
			 RETURNING `+endpointColumns,
			key.IP, key.Port, scanDate, int(verifiedValue))
	}

	e, err := scanEndpoint(row)
	if err != nil {
		return nil, fmt.Errorf("upsert endpoint %s: %w", key, err)
	}
	return &e, nil
}

func (t *transaction) MarkValid(ctx context.Context, endpointID int64, now time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE endpoints SET verified = $2, verification_date = $3, inactive_reason = NULL,
		 is_active = true, last_check_date = $3
		 WHERE id = $1`,
		endpointID, int(endpoint.VerifiedOK), now)
	return execExpectOne(tag, err, "mark valid endpoint %d", endpointID)
}

func (t *transaction) MarkHoneypot(ctx context.Context, endpointID int64, reason string, now time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE endpoints SET is_honeypot = true, honeypot_reason = $2, verified = $3, last_check_date = $4
		 WHERE id = $1`,
		endpointID, reason, int(endpoint.VerifiedRejected), now)
	return execExpectOne(tag, err, "mark honeypot endpoint %d", endpointID)
}

func (t *transaction) MarkInvalid(ctx context.Context, endpointID int64, reason string, authRequired bool, now time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE endpoints SET verified = $2, is_active = false, inactive_reason = $3,
		 auth_required = $4, last_check_date = $5
		 WHERE id = $1`,
		endpointID, int(endpoint.VerifiedRejected), reason, authRequired, now)
	return execExpectOne(tag, err, "mark invalid endpoint %d", endpointID)
}

func (t *transaction) UpsertVerifiedEndpoint(ctx context.Context, endpointID int64, now time.Time, method string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO verified_endpoints (endpoint_id, verification_date, verification_method)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (endpoint_id) DO UPDATE SET verification_date = EXCLUDED.verification_date,
		   verification_method = EXCLUDED.verification_method`,
		endpointID, now, nullIfEmpty(method))
	if err != nil {
		return fmt.Errorf("upsert verified endpoint %d: %w", endpointID, err)
	}
	return nil
}

func (t *transaction) DeleteVerifiedEndpoint(ctx context.Context, endpointID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM verified_endpoints WHERE endpoint_id = $1`, endpointID)
	if err != nil {
		return fmt.Errorf("delete verified endpoint %d: %w", endpointID, err)
	}
	return nil
}

func (t *transaction) ListModelsByEndpoint(ctx context.Context, endpointID int64) ([]model.Model, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, endpoint_id, name, parameter_size, quantization_level, size_mb, model_type, capabilities
		 FROM models WHERE endpoint_id = $1`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("tx list models: %w", err)
	}
	defer rows.Close()

	var out []model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ApplyModelDiff implements §4.4's model reconciliation: add missing,
// update changed, delete absent, all within the caller's transaction.
func (t *transaction) ApplyModelDiff(ctx context.Context, endpointID int64, diff model.Diff) error {
	for _, m := range diff.Add {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO models (endpoint_id, name, parameter_size, quantization_level, size_mb, model_type, capabilities)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			endpointID, m.Name, nullIfEmpty(m.ParameterSize), nullIfEmpty(m.QuantizationLevel),
			nullFloatIfZero(m.SizeMB), nullIfEmpty(m.ModelType), pgTextArray(m.Capabilities))
		if err != nil {
			return fmt.Errorf("add model %s: %w", m.Name, err)
		}
	}

	for _, m := range diff.Update {
		tag, err := t.tx.Exec(ctx,
			`UPDATE models SET parameter_size = $3, quantization_level = $4, size_mb = $5, model_type = $6, capabilities = $7
			 WHERE endpoint_id = $1 AND name = $2`,
			endpointID, m.Name, nullIfEmpty(m.ParameterSize), nullIfEmpty(m.QuantizationLevel),
			nullFloatIfZero(m.SizeMB), nullIfEmpty(m.ModelType), pgTextArray(m.Capabilities))
		if err := execExpectOne(tag, err, "update model %s", m.Name); err != nil {
			return err
		}
	}

	for _, m := range diff.Remove {
		_, err := t.tx.Exec(ctx, `DELETE FROM models WHERE endpoint_id = $1 AND name = $2`, endpointID, m.Name)
		if err != nil {
			return fmt.Errorf("remove model %s: %w", m.Name, err)
		}
	}

	return nil
}

func (t *transaction) AppendEndpointVerification(ctx context.Context, v verification.EndpointVerification) error {
	detectedModelsJSON, err := json.Marshal(v.DetectedModels)
	if err != nil {
		return fmt.Errorf("marshal detected models: %w", err)
	}
	metricsJSON, err := json.Marshal(v.ResponseMetrics)
	if err != nil {
		return fmt.Errorf("marshal response metrics: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO endpoint_verifications (endpoint_id, verification_date, response_sample, detected_models, is_honeypot, response_metrics)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (endpoint_id, verification_date) DO NOTHING`,
		v.EndpointID, v.VerificationDate, v.ResponseSample, detectedModelsJSON, v.IsHoneypot, metricsJSON)
	if err != nil {
		return fmt.Errorf("append endpoint verification: %w", err)
	}
	return nil
}

func (t *transaction) SetMetadata(ctx context.Context, key, value string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO metadata (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("tx set metadata %s: %w", key, err)
	}
	return nil
}

func nullFloatIfZero(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
