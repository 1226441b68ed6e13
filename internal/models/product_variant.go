package models

import "fmt"

// ProductVariant is the single capability surface for the template/tool
// split. The variant is selected once when the order item is loaded;
// downstream code never branches on the type tag again.
type ProductVariant interface {
	// ResolveFile returns the deliverable file for the product.
	// A missing source file is a permanent delivery error.
	ResolveFile() (string, error)
	DisplayName() string
}

// Variant returns the typed variant for the product's type tag.
func (p *Product) Variant() (ProductVariant, error) {
	switch p.ProductType {
	case ProductTypeTemplate:
		return templateProduct{p}, nil
	case ProductTypeTool:
		return toolProduct{p}, nil
	default:
		return nil, fmt.Errorf("unknown product type: %s", p.ProductType)
	}
}

type templateProduct struct {
	p *Product
}

func (t templateProduct) ResolveFile() (string, error) {
	if t.p.SourcePath == "" {
		return "", fmt.Errorf("template %d has no archive file", t.p.ID)
	}
	return t.p.SourcePath, nil
}

func (t templateProduct) DisplayName() string {
	return fmt.Sprintf("Website Template: %s", t.p.Name)
}

type toolProduct struct {
	p *Product
}

func (t toolProduct) ResolveFile() (string, error) {
	if t.p.SourcePath == "" {
		return "", fmt.Errorf("tool %d has no installer file", t.p.ID)
	}
	return t.p.SourcePath, nil
}

func (t toolProduct) DisplayName() string {
	return fmt.Sprintf("Tool: %s", t.p.Name)
}
