package domain

// Document represents a document in the database
type Document map[string]interface{}

// Clone returns a shallow copy of the document
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ID returns the document's "_id" field, or "" when it is missing or not a string
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Collection represents a collection of documents
type Collection struct {
	Name      string              `json:"name"`
	Documents map[string]Document `json:"documents"`
}

// NewCollection creates a new collection
func NewCollection(name string) *Collection {
	return &Collection{
		Name:      name,
		Documents: make(map[string]Document),
	}
}

// BatchUpdateOperation is a single partial update inside an atomic batch
type BatchUpdateOperation struct {
	ID      string   `json:"id" msgpack:"id"`
	Updates Document `json:"updates" msgpack:"updates"`
}
