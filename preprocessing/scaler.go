package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

// minScale 未満の標準偏差・範囲は 1 として扱う（定数列のゼロ除算を避ける）
const minScale = 1e-8

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する
type StandardScaler struct {
	state *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（母標準偏差）
	Scale []float64

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		state:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, variance := stat.PopMeanVariance(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1
		if s.WithStd {
			if std := math.Sqrt(variance); std >= minScale {
				s.Scale[j] = std
			}
		}
	}

	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.InverseTransform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, X.At(i, j)*s.Scale[j]+s.Mean[j])
		}
	}
	return result, nil
}

// IsFitted はスケーラーが学習済みかどうかを返す
func (s *StandardScaler) IsFitted() bool { return s.state.IsFitted() }

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.state.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	nFeatures, _ := s.state.GetDimensions()
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, nFeatures)
}

type standardScalerSnapshot struct {
	Mean     []float64
	Scale    []float64
	WithMean bool
	WithStd  bool
	State    model.ModelState
}

// GobEncode は学習状態を含めてエンコードする
func (s *StandardScaler) GobEncode() ([]byte, error) {
	return model.EncodeSnapshot(standardScalerSnapshot{
		Mean: s.Mean, Scale: s.Scale, WithMean: s.WithMean, WithStd: s.WithStd, State: s.state.GetState(),
	})
}

// GobDecode は GobEncode の逆
func (s *StandardScaler) GobDecode(data []byte) error {
	var snap standardScalerSnapshot
	if err := model.DecodeSnapshot(data, &snap); err != nil {
		return err
	}
	s.Mean, s.Scale, s.WithMean, s.WithStd = snap.Mean, snap.Scale, snap.WithMean, snap.WithStd
	s.state = model.NewStateManager()
	s.state.SetState(snap.State)
	return nil
}

// MinMaxScaler はscikit-learn互換のMin-Maxスケーラー
// データを指定した範囲（デフォルト[0,1]）にスケーリングする
type MinMaxScaler struct {
	state *model.StateManager

	// DataMin は学習データの最小値
	DataMin []float64

	// DataMax は学習データの最大値
	DataMax []float64

	// Scale は各特徴量のスケール (max - min)
	Scale []float64

	// FeatureRange はスケーリング後の範囲 [min, max]
	FeatureRange [2]float64
}

// NewMinMaxScaler は新しいMinMaxScalerを作成する
func NewMinMaxScaler(featureRange [2]float64) *MinMaxScaler {
	return &MinMaxScaler{
		state:        model.NewStateManager(),
		FeatureRange: featureRange,
	}
}

// NewMinMaxScalerDefault はデフォルト設定([0,1]範囲)でMinMaxScalerを作成する
func NewMinMaxScalerDefault() *MinMaxScaler {
	return NewMinMaxScaler([2]float64{0.0, 1.0})
}

// Fit は訓練データから最小値・最大値を計算する
func (m *MinMaxScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MinMaxScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if m.FeatureRange[0] >= m.FeatureRange[1] {
		return errors.NewValidationError("feature_range", "minimum must be smaller than maximum", m.FeatureRange)
	}

	m.DataMin = make([]float64, c)
	m.DataMax = make([]float64, c)
	m.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		m.DataMin[j] = floats.Min(col)
		m.DataMax[j] = floats.Max(col)
		m.Scale[j] = m.DataMax[j] - m.DataMin[j]
		if m.Scale[j] < minScale {
			m.Scale[j] = 1
		}
	}

	m.state.SetDimensions(c, r)
	m.state.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータをスケーリングする
func (m *MinMaxScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.state.RequireFitted("MinMaxScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := m.state.RequireFeatures("MinMaxScaler.Transform", c); err != nil {
		return nil, err
	}

	width := m.FeatureRange[1] - m.FeatureRange[0]
	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, (X.At(i, j)-m.DataMin[j])/m.Scale[j]*width+m.FeatureRange[0])
		}
	}
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (m *MinMaxScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// InverseTransform はスケーリングされたデータを元の範囲に戻す
func (m *MinMaxScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.state.RequireFitted("MinMaxScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := m.state.RequireFeatures("MinMaxScaler.InverseTransform", c); err != nil {
		return nil, err
	}

	width := m.FeatureRange[1] - m.FeatureRange[0]
	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, (X.At(i, j)-m.FeatureRange[0])/width*m.Scale[j]+m.DataMin[j])
		}
	}
	return result, nil
}

// IsFitted はスケーラーが学習済みかどうかを返す
func (m *MinMaxScaler) IsFitted() bool { return m.state.IsFitted() }

// GetParams はスケーラーのパラメータを取得する
func (m *MinMaxScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"feature_range": m.FeatureRange,
	}
}

// String はスケーラーの文字列表現を返す
func (m *MinMaxScaler) String() string {
	return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f])", m.FeatureRange[0], m.FeatureRange[1])
}

type minMaxScalerSnapshot struct {
	DataMin      []float64
	DataMax      []float64
	Scale        []float64
	FeatureRange [2]float64
	State        model.ModelState
}

// GobEncode は学習状態を含めてエンコードする
func (m *MinMaxScaler) GobEncode() ([]byte, error) {
	return model.EncodeSnapshot(minMaxScalerSnapshot{
		DataMin: m.DataMin, DataMax: m.DataMax, Scale: m.Scale, FeatureRange: m.FeatureRange, State: m.state.GetState(),
	})
}

// GobDecode は GobEncode の逆
func (m *MinMaxScaler) GobDecode(data []byte) error {
	var snap minMaxScalerSnapshot
	if err := model.DecodeSnapshot(data, &snap); err != nil {
		return err
	}
	m.DataMin, m.DataMax, m.Scale, m.FeatureRange = snap.DataMin, snap.DataMax, snap.Scale, snap.FeatureRange
	m.state = model.NewStateManager()
	m.state.SetState(snap.State)
	return nil
}
