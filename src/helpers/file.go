package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func OpenDataFile(dataDirectory, fileName string) (*os.File, error) {
	// Open a specific data file
	filePath := filepath.Join(dataDirectory, fileName)
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("error opening data file %s: %w", fileName, err)
	}
	return file, nil
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string, logger *zap.SugaredLogger) bool {
	info, err := os.Stat(filename)
	if err != nil {
		if !os.IsNotExist(err) && logger != nil {
			logger.Infof("Error checking file %s for existence: %s", filename, err)
		}
		return false
	}

	return !info.IsDir()
}

func EncodeBSON(data interface{}) ([]byte, error) {
	bsonData, err := bson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error encoding BSON: %w", err)
	}
	return bsonData, nil
}

func DecodeBSON(bsonData []byte) (bson.M, error) {
	var decodedData bson.M
	if err := bson.Unmarshal(bsonData, &decodedData); err != nil {
		return nil, fmt.Errorf("error decoding BSON: %w", err)
	}
	return decodedData, nil
}

// CloneDocument deep-copies a document by round-tripping it through BSON.
func CloneDocument(doc bson.M) (bson.M, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := EncodeBSON(doc)
	if err != nil {
		return nil, err
	}
	return DecodeBSON(data)
}

// ParseExtJSON reads a MongoDB extended JSON object ({"$oid": ...} and friends).
func ParseExtJSON(data []byte) (bson.M, error) {
	var doc bson.M
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("error parsing extended JSON: %w", err)
	}
	return doc, nil
}

// ToExtJSON renders a value as relaxed extended JSON.
func ToExtJSON(value interface{}) (string, error) {
	data, err := bson.MarshalExtJSON(value, false, false)
	if err != nil {
		return "", fmt.Errorf("error rendering extended JSON: %w", err)
	}
	return string(data), nil
}
