package model

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// SaveModel はモデルをファイルに保存する
//
// 一時ファイルに書き込んでからリネームするため、途中で失敗しても
// 既存のファイルは壊れない。
//
// 使用例:
//
//	forest := ensemble.NewRandomForestClassifier()
//	// ... モデルの学習 ...
//	err := model.SaveModel(forest, "model.gob")
func SaveModel(model interface{}, filename string) (err error) {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".*.tmp")
	if err != nil {
		return errors.NewModelError("SaveModel", "create", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = SaveModelToWriter(model, tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return errors.NewModelError("SaveModel", "close", err)
	}
	if err = os.Rename(tmp.Name(), filename); err != nil {
		return errors.NewModelError("SaveModel", "rename", err)
	}
	return nil
}

// LoadModel はファイルからモデルを読み込む
//
// 使用例:
//
//	forest := ensemble.NewRandomForestClassifier()
//	err := model.LoadModel(forest, "model.gob")
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.NewModelError("LoadModel", "open", err)
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.NewModelError("SaveModel", "encode", err)
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
//
// model はポインタでなければならない。
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.NewModelError("LoadModel", "decode", err)
	}
	return nil
}

// EncodeSnapshot は GobEncode 実装用のヘルパー
//
// 未エクスポートのフィールドを持つ推定器は、エクスポートされたスナップショット構造体に
// 状態を詰め替えてからこの関数でエンコードする。
func EncodeSnapshot(snapshot interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot は GobDecode 実装用のヘルパー
func DecodeSnapshot(data []byte, snapshot interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(snapshot)
}
