package postgres

const taskColumns = `owner_id, task_id, description, deadline, status, created_at, updated_at, version`

const queryGetTask = `
SELECT ` + taskColumns + `
FROM tasks
WHERE owner_id = $1 AND task_id = $2
`

const queryGetTaskForUpdate = `
SELECT ` + taskColumns + `
FROM tasks
WHERE owner_id = $1 AND task_id = $2
FOR UPDATE
`

const queryInsertTask = `
INSERT INTO tasks (owner_id, task_id, description, deadline, status, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryUpdateTask = `
UPDATE tasks
SET description = $3, deadline = $4, status = $5, updated_at = $6, version = $7
WHERE owner_id = $1 AND task_id = $2
`

const queryDeleteTask = `
DELETE FROM tasks WHERE owner_id = $1 AND task_id = $2
`

const queryListTasksByOwner = `
SELECT ` + taskColumns + `
FROM tasks
WHERE owner_id = $1
ORDER BY created_at, task_id
`

// Keyset pagination over (owner_id, task_id).
const queryListPendingTasks = `
SELECT ` + taskColumns + `
FROM tasks
WHERE status = 'Pending'
  AND (owner_id, task_id) > ($1, $2)
ORDER BY owner_id, task_id
LIMIT $3
`

// Serializes feed appends so sequence order matches commit order.
const queryLockFeed = `
SELECT pg_advisory_xact_lock($1)
`

const queryInsertChange = `
INSERT INTO task_changes (owner_id, task_id, change_type, before_image, after_image, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryListChanges = `
SELECT seq, owner_id, task_id, change_type, before_image, after_image, recorded_at
FROM task_changes
WHERE seq > $1
ORDER BY seq
LIMIT $2
`

const queryLoadCursor = `
SELECT seq FROM feed_cursors WHERE consumer = $1
`

const querySaveCursor = `
INSERT INTO feed_cursors (consumer, seq, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (consumer) DO UPDATE
SET seq = GREATEST(feed_cursors.seq, EXCLUDED.seq), updated_at = now()
`

const queryUpsertTrigger = `
INSERT INTO expiry_triggers (owner_id, task_id, due_at, payload_version)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id, task_id) DO UPDATE
SET due_at = EXCLUDED.due_at, payload_version = EXCLUDED.payload_version
`

const queryDeleteTrigger = `
DELETE FROM expiry_triggers WHERE owner_id = $1 AND task_id = $2
`

const queryListTriggers = `
SELECT owner_id, task_id, due_at, payload_version
FROM expiry_triggers
ORDER BY due_at
`

const queryInsertDeadLetter = `
INSERT INTO dead_letters (id, source, owner_id, task_id, sequence, payload, reason, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
