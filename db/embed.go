// Package db embeds the PostgreSQL schema and the demo catalog.
package db

import _ "embed"

// Schema contains the DDL for the product, sale and sale_products tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Products is the demo product catalog, a JSON array.
//
//go:embed seed/products.json
var Products []byte

// Sales are the demo sale definitions, a JSON array.
//
//go:embed seed/sales.json
var Sales []byte
