package config

import "fmt"

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Node constraints
	MaxContentLength int
	MaxNotesLength   int
	MaxTagsPerNode   int
	MaxTagLength     int

	// Tree constraints
	MaxTreeDepth int // bound on ancestor walks; longer chains are treated as corruption

	// Request limits
	MaxBatchSize   int
	MaxImportNodes int
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxContentLength: 10000,
		MaxNotesLength:   100000,
		MaxTagsPerNode:   50,
		MaxTagLength:     100,

		MaxTreeDepth: 10000,

		MaxBatchSize:   500,
		MaxImportNodes: 5000,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// DynamoDB transactions cap the number of writes per commit
	config.MaxBatchSize = 100
	config.MaxImportNodes = 1000

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.MaxBatchSize = 1000
	config.MaxImportNodes = 20000

	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MaxTreeDepth <= 0 {
		return fmt.Errorf("max tree depth must be positive, got %d", c.MaxTreeDepth)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("max content length must be positive, got %d", c.MaxContentLength)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	}
	return nil
}
