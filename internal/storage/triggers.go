package storage

import (
	"fmt"

	"github.com/pkg/errors"
)

// changeTriggerSQL installs a row trigger that announces every change on the
// given NOTIFY channel. Only the table, operation and key travel in the payload
// (NOTIFY payloads are capped at 8000 bytes); the listener re-reads the row.
const changeTriggerSQL = `
CREATE OR REPLACE FUNCTION notify_row_change() RETURNS trigger AS $$
DECLARE
    rec RECORD;
BEGIN
    IF TG_OP = 'DELETE' THEN
        rec := OLD;
    ELSE
        rec := NEW;
    END IF;
    PERFORM pg_notify('%[1]s', json_build_object(
        'table', TG_TABLE_NAME,
        'event', TG_OP,
        'key', to_jsonb(rec) ->> TG_ARGV[0]
    )::text);
    RETURN rec;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS messages_row_change ON messages;
CREATE TRIGGER messages_row_change
    AFTER INSERT OR UPDATE OR DELETE ON messages
    FOR EACH ROW EXECUTE FUNCTION notify_row_change('id');

DROP TRIGGER IF EXISTS users_row_change ON users;
CREATE TRIGGER users_row_change
    AFTER INSERT OR UPDATE OR DELETE ON users
    FOR EACH ROW EXECUTE FUNCTION notify_row_change('name');
`

// InstallChangeTriggers wires the messages and users tables to the change
// feed channel. PostgreSQL only.
func (s *Service) InstallChangeTriggers(channel string) error {
	if err := s.DB.Exec(fmt.Sprintf(changeTriggerSQL, channel)).Error; err != nil {
		return errors.Wrap(err, "install change triggers")
	}
	return nil
}
