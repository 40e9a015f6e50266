package storage

const schema = `
-- The 'questions' table holds the immutable question reference data,
-- normalized at ingest time.
CREATE TABLE IF NOT EXISTS questions (
    id TEXT PRIMARY KEY,
    question_text TEXT NOT NULL,
    options TEXT NOT NULL,          -- JSON array of option texts
    correct_indices TEXT NOT NULL,  -- JSON array of ints
    qtype TEXT NOT NULL,            -- 'single' or 'multiple'
    skill_category TEXT NOT NULL,
    difficulty_level INTEGER NOT NULL,
    explanation TEXT,
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

CREATE INDEX IF NOT EXISTS idx_questions_skill ON questions(skill_category, difficulty_level);

-- One card per (learner, question). Cards are never deleted.
CREATE TABLE IF NOT EXISTS cards (
    learner_id TEXT NOT NULL,
    question_id TEXT NOT NULL,
    state INTEGER NOT NULL DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    step INTEGER NOT NULL DEFAULT 0,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    due_date DATETIME NOT NULL,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    last_review DATETIME,
    version INTEGER NOT NULL DEFAULT 1,

    PRIMARY KEY(learner_id, question_id)
);

CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(learner_id, due_date);

-- At most one active session per learner, enforced on insert.
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    learner_id TEXT NOT NULL,
    session_type TEXT NOT NULL,
    skill_ids TEXT NOT NULL,  -- JSON array
    queue TEXT NOT NULL,      -- JSON array of question ids
    position INTEGER NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_sessions_learner_active ON sessions(learner_id, active);

-- Append-only history of submissions. The unique (session, question) pair
-- doubles as the idempotency key for retried submissions.
CREATE TABLE IF NOT EXISTS reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    learner_id TEXT NOT NULL,
    question_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    correct INTEGER NOT NULL,
    rating INTEGER NOT NULL,
    response_time REAL NOT NULL,
    selected_indices TEXT NOT NULL, -- JSON array of ints
    new_state INTEGER NOT NULL,
    new_difficulty REAL NOT NULL,
    new_due DATETIME NOT NULL,
    days_until INTEGER NOT NULL,
    streak INTEGER NOT NULL,
    created_at DATETIME NOT NULL,

    UNIQUE(session_id, question_id)
);

CREATE INDEX IF NOT EXISTS idx_reports_learner ON reports(learner_id, created_at);

-- The 'sources' table tracks where question banks come from, either a local
-- directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    source_type TEXT NOT NULL DEFAULT 'local',
    last_scanned DATETIME
);
`
