package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				published_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_owner_id ON flows(owner_id);
			CREATE INDEX idx_flows_active ON flows(active) WHERE deleted_at IS NULL;

			CREATE TABLE steps (
				id UUID PRIMARY KEY,
				flow_id UUID NOT NULL REFERENCES flows(id),
				type VARCHAR(20) NOT NULL CHECK (type IN ('trigger', 'action')),
				app_key VARCHAR(255),
				key VARCHAR(255),
				connection_id VARCHAR(255),
				position INT NOT NULL CHECK (position >= 1),
				parameters JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(20) NOT NULL CHECK (status IN ('incomplete', 'completed')),
				webhook_path TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT steps_flow_position_unique UNIQUE (flow_id, position) DEFERRABLE INITIALLY DEFERRED
			);

			CREATE INDEX idx_steps_flow_id ON steps(flow_id);
		`,
		2: `
			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				flow_id UUID NOT NULL REFERENCES flows(id),
				internal_id VARCHAR(255) NOT NULL,
				test_run BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_flow_created ON executions(flow_id, created_at DESC);

			CREATE TABLE execution_steps (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id),
				step_id UUID NOT NULL REFERENCES steps(id),
				status VARCHAR(20) NOT NULL CHECK (status IN ('success', 'failure')),
				data_in JSONB,
				data_out JSONB,
				error_details JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_steps_execution_id ON execution_steps(execution_id);
			CREATE INDEX idx_execution_steps_step_id ON execution_steps(step_id);
		`,
	}
}
