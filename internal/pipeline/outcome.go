package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// BatchOutcome は1バッチの最終結果です。Success か Failure のどちらかになります。
type BatchOutcome interface {
	Range() PageRange
	isBatchOutcome()
}

// Success は変換済みのバッチファイルを保持します。
type Success struct {
	PageRange
	ArtifactPath string
}

// Failure はバッチを変換できなかった理由を記録します。
type Failure struct {
	PageRange
	Cause string
}

func (s Success) Range() PageRange { return s.PageRange }
func (f Failure) Range() PageRange { return f.PageRange }

func (Success) isBatchOutcome() {}
func (Failure) isBatchOutcome() {}

const (
	kindSuccess = "success"
	kindFailure = "failure"
)

// outcomeEnvelope はタスクキュー上での BatchOutcome の表現です。
type outcomeEnvelope struct {
	Kind         string `json:"kind"`
	StartPage    *int   `json:"start_page"`
	EndPage      *int   `json:"end_page"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Cause        string `json:"cause,omitempty"`
}

// MarshalOutcome は結果をキュー用のJSONに変換します。
func MarshalOutcome(o BatchOutcome) ([]byte, error) {
	r := o.Range()
	env := outcomeEnvelope{StartPage: &r.Start, EndPage: &r.End}
	switch v := o.(type) {
	case Success:
		env.Kind = kindSuccess
		env.ArtifactPath = v.ArtifactPath
	case Failure:
		env.Kind = kindFailure
		env.Cause = v.Cause
	default:
		return nil, fmt.Errorf("unknown outcome type %T", o)
	}
	return json.Marshal(env)
}

// DecodeOutcomes は結合ペイロードを結果のスライスに正規化します。
// 単一のオブジェクトは要素1つのリストとして扱います。
// オブジェクトでもリストでもない場合は AGGREGATION_FORMAT、
// 必須キーが欠けている要素は AGGREGATION_KEY エラーになります。
func DecodeOutcomes(raw []byte) ([]BatchOutcome, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, NewError(CodeAggregationFormat, "empty join payload", nil)
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '{':
		items = []json.RawMessage{trimmed}
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, NewError(CodeAggregationFormat, "join payload is not a valid list", err)
		}
	default:
		return nil, NewError(CodeAggregationFormat, fmt.Sprintf("unexpected join payload: %.40s", trimmed), nil)
	}

	outcomes := make([]BatchOutcome, 0, len(items))
	for i, item := range items {
		o, err := decodeOutcome(item)
		if err != nil {
			var pe *Error
			if errors.As(err, &pe) {
				pe.Message = fmt.Sprintf("outcome %d: %s", i, pe.Message)
			}
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func decodeOutcome(item json.RawMessage) (BatchOutcome, error) {
	var env outcomeEnvelope
	if err := json.Unmarshal(item, &env); err != nil {
		return nil, NewError(CodeAggregationFormat, "outcome is not an object", err)
	}
	if env.Kind == "" {
		return nil, NewError(CodeAggregationKey, "missing key kind", nil)
	}
	if env.StartPage == nil {
		return nil, NewError(CodeAggregationKey, "missing key start_page", nil)
	}
	if env.EndPage == nil {
		return nil, NewError(CodeAggregationKey, "missing key end_page", nil)
	}
	r := PageRange{Start: *env.StartPage, End: *env.EndPage}

	switch env.Kind {
	case kindSuccess:
		if env.ArtifactPath == "" {
			return nil, NewError(CodeAggregationKey, "missing key artifact_path", nil)
		}
		return Success{PageRange: r, ArtifactPath: env.ArtifactPath}, nil
	case kindFailure:
		return Failure{PageRange: r, Cause: env.Cause}, nil
	default:
		return nil, NewError(CodeAggregationFormat, fmt.Sprintf("unknown outcome kind %q", env.Kind), nil)
	}
}
