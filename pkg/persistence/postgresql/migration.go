package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				code VARCHAR(100) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				entity_type VARCHAR(100) NOT NULL,
				trigger_event VARCHAR(100) NOT NULL,
				entry_conditions JSONB,
				sla_hours INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'inactive')),
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (code, version)
			);

			CREATE INDEX idx_definitions_status ON workflow_definitions(status);
			CREATE INDEX idx_definitions_trigger ON workflow_definitions(entity_type, trigger_event, status);

			CREATE TABLE workflow_steps (
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				step_order INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				assignment JSONB NOT NULL,
				condition JSONB,
				on_approve INTEGER,
				on_reject INTEGER,
				sla_hours INTEGER NOT NULL DEFAULT 0,
				escalation_hours INTEGER NOT NULL DEFAULT 0,
				escalate_to JSONB,
				is_final BOOLEAN NOT NULL DEFAULT false,
				allow_delegation BOOLEAN NOT NULL DEFAULT false,
				allow_reassignment BOOLEAN NOT NULL DEFAULT false,
				require_comment BOOLEAN NOT NULL DEFAULT false,
				form_schema JSONB,
				PRIMARY KEY (definition_id, id),
				UNIQUE (definition_id, step_order)
			);

			CREATE TABLE workflow_instances (
				id UUID PRIMARY KEY,
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id),
				definition_code VARCHAR(100) NOT NULL,
				definition_version INTEGER NOT NULL,
				entity_type VARCHAR(100) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				snapshot JSONB,
				current_step_order INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'in_progress', 'approved', 'rejected', 'cancelled', 'error')),
				error_reason TEXT NOT NULL DEFAULT '',
				triggered_by VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_instances_entity ON workflow_instances(entity_type, entity_id);
			CREATE INDEX idx_instances_status ON workflow_instances(status);

			CREATE TABLE step_executions (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL REFERENCES workflow_instances(id),
				step_id VARCHAR(255) NOT NULL,
				step_order INTEGER NOT NULL,
				dispatch_id UUID NOT NULL,
				assignee_id VARCHAR(255) NOT NULL,
				assignee_name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'delegated', 'escalated', 'cancelled')),
				comment TEXT NOT NULL DEFAULT '',
				form_data JSONB,
				delegated_from UUID,
				escalated_from UUID,
				reason TEXT NOT NULL DEFAULT '',
				due_at TIMESTAMP WITH TIME ZONE,
				acted_by VARCHAR(255),
				acted_at TIMESTAMP WITH TIME ZONE,
				signatures JSONB,
				attachments JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_instance ON step_executions(instance_id);
			CREATE INDEX idx_executions_inbox ON step_executions(assignee_id, status);
			CREATE INDEX idx_executions_overdue ON step_executions(status, due_at);

			CREATE TABLE audit_entries (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL,
				execution_id UUID,
				actor_id VARCHAR(255),
				action VARCHAR(100) NOT NULL,
				before_state JSONB,
				after_state JSONB,
				detail TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_instance ON audit_entries(instance_id);
		`,
	}
}
