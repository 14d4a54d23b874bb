package segment

// TargetKind is what a segment addresses.
type TargetKind int

const (
	KindNothing TargetKind = iota
	KindServiceDirectory
	// KindResource is a single entity: a keyed entity set or a to-one navigation.
	KindResource
	// KindResourceSet is a collection of entities.
	KindResourceSet
	KindComplexObject
	KindPrimitive
	KindPrimitiveValue
	KindBag
	KindLink
	KindCount
	KindMediaResource
	KindBatch
	KindMetadata
	KindVoid
)

var kindNames = map[TargetKind]string{
	KindNothing:          "Nothing",
	KindServiceDirectory: "ServiceDirectory",
	KindResource:         "Resource",
	KindResourceSet:      "ResourceSet",
	KindComplexObject:    "ComplexObject",
	KindPrimitive:        "Primitive",
	KindPrimitiveValue:   "PrimitiveValue",
	KindBag:              "Bag",
	KindLink:             "Link",
	KindCount:            "Count",
	KindMediaResource:    "MediaResource",
	KindBatch:            "Batch",
	KindMetadata:         "Metadata",
	KindVoid:             "Void",
}

func (k TargetKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// IsEntity reports whether the kind addresses one or more entities.
func (k TargetKind) IsEntity() bool {
	return k == KindResource || k == KindResourceSet
}

// TargetSource is where a segment's data comes from.
type TargetSource int

const (
	SourceNone TargetSource = iota
	SourceEntitySet
	SourceProperty
)

func (s TargetSource) String() string {
	switch s {
	case SourceEntitySet:
		return "EntitySet"
	case SourceProperty:
		return "Property"
	}
	return "None"
}
