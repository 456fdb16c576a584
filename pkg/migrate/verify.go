package migrate

import (
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
)

// MissingTables lists model tables absent from the connected schema, sorted.
func MissingTables(conn *gorm.DB) ([]string, error) {
	if conn == nil {
		return nil, fmt.Errorf("db is required")
	}
	var missing []string
	migrator := conn.Migrator()
	for _, model := range models.All() {
		if migrator.HasTable(model) {
			continue
		}
		name := fmt.Sprintf("%T", model)
		if t, ok := model.(schema.Tabler); ok {
			name = t.TableName()
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing, nil
}
