package stix

import "attack-graph/internal/domain/models"

// Catalog indexes the objects of one bundle by STIX id and by type.
// It is built once by Load and only read afterwards.
type Catalog struct {
	bundleID string
	byID     map[string]*models.STIXObject
	byType   map[models.STIXType][]*models.STIXObject
	position map[string]int // index of an id inside byType[type]
}

func newCatalog(bundleID string, sizeHint int) *Catalog {
	return &Catalog{
		bundleID: bundleID,
		byID:     make(map[string]*models.STIXObject, sizeHint),
		byType:   make(map[models.STIXType][]*models.STIXObject),
		position: make(map[string]int, sizeHint),
	}
}

// add indexes an object. A repeated id replaces the earlier object in place.
func (c *Catalog) add(obj *models.STIXObject) {
	if prev, ok := c.byID[obj.ID]; ok {
		pos := c.position[obj.ID]
		if prev.Type == obj.Type {
			c.byType[obj.Type][pos] = obj
			c.byID[obj.ID] = obj
			return
		}
		c.remove(prev)
	}

	c.byID[obj.ID] = obj
	c.position[obj.ID] = len(c.byType[obj.Type])
	c.byType[obj.Type] = append(c.byType[obj.Type], obj)
}

func (c *Catalog) remove(obj *models.STIXObject) {
	list := c.byType[obj.Type]
	pos := c.position[obj.ID]
	list = append(list[:pos], list[pos+1:]...)
	for i := pos; i < len(list); i++ {
		c.position[list[i].ID] = i
	}
	c.byType[obj.Type] = list
	delete(c.byID, obj.ID)
	delete(c.position, obj.ID)
}

// BundleID returns the id of the bundle the catalog was built from
func (c *Catalog) BundleID() string {
	return c.bundleID
}

// Get looks up an object by STIX id
func (c *Catalog) Get(id string) (*models.STIXObject, bool) {
	obj, ok := c.byID[id]
	return obj, ok
}

// OfType returns the objects of one type in bundle order
func (c *Catalog) OfType(t models.STIXType) []*models.STIXObject {
	return c.byType[t]
}

// Relationships returns all relationship objects in bundle order
func (c *Catalog) Relationships() []*models.STIXObject {
	return c.byType[models.STIXTypeRelationship]
}

// Len returns the number of distinct objects
func (c *Catalog) Len() int {
	return len(c.byID)
}

// Counts returns the number of objects per type
func (c *Catalog) Counts() map[models.STIXType]int {
	counts := make(map[models.STIXType]int, len(c.byType))
	for t, objs := range c.byType {
		counts[t] = len(objs)
	}
	return counts
}

// NewCatalog builds a catalog from already decoded objects, with the same
// replace-on-duplicate rule as Load
func NewCatalog(bundleID string, objects ...*models.STIXObject) *Catalog {
	c := newCatalog(bundleID, len(objects))
	for _, obj := range objects {
		c.add(obj)
	}
	return c
}
